package drafter

import (
	"context"
	"strings"
)

// DraftRequest is the guest message a staff member is about to answer.
type DraftRequest struct {
	ThreadID     string
	GuestName    string
	GuestMessage string
	StaffName    string
}

// Drafter suggests a reply; the staff member still edits and sends it.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (string, error)
}

// TemplateDrafter answers common guest questions from canned templates
// picked by keyword.
type TemplateDrafter struct{}

func NewTemplateDrafter() *TemplateDrafter {
	return &TemplateDrafter{}
}

type template struct {
	keywords []string
	body     string
}

// Checked in order; the first template with a matching keyword wins.
var templates = []template{
	{
		keywords: []string{"check-in", "check in", "checkin", "arrive", "arrival", "key"},
		body:     "Check-in starts at 3pm. We'll send your door code on the morning of arrival.",
	},
	{
		keywords: []string{"checkout", "check-out", "check out", "leave", "departure"},
		body:     "Checkout is at 11am. Please leave the keys on the kitchen table and close the windows.",
	},
	{
		keywords: []string{"wifi", "wi-fi", "internet", "password"},
		body:     "The wifi network name and password are on the card next to the router.",
	},
	{
		keywords: []string{"parking", "park", "car", "garage"},
		body:     "There is free parking in front of the building; spot numbers are on your booking confirmation.",
	},
	{
		keywords: []string{"broken", "not working", "doesn't work", "leak", "repair"},
		body:     "Sorry about that! We're sending someone to take a look as soon as possible.",
	},
}

const fallbackBody = "Thanks for your message! We'll get back to you shortly."

func (d *TemplateDrafter) Draft(ctx context.Context, req DraftRequest) (string, error) {
	content := strings.ToLower(req.GuestMessage)

	body := fallbackBody
	for _, t := range templates {
		if containsAny(content, t.keywords) {
			body = t.body
			break
		}
	}

	greeting := "Hi"
	if name := strings.TrimSpace(req.GuestName); name != "" {
		greeting += " " + name
	}
	reply := greeting + "! " + body
	if staff := strings.TrimSpace(req.StaffName); staff != "" {
		reply += "\n\n" + staff
	}
	return reply, nil
}

func containsAny(content string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(content, keyword) {
			return true
		}
	}
	return false
}

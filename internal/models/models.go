package models

import "time"

// Key identifies a claim slot: one message within one conversation thread.
type Key struct {
	ThreadID  string `json:"thread_id" bson:"thread_id"`
	MessageID string `json:"message_id" bson:"message_id"`
}

// Valid reports whether both parts of the key are set.
func (k Key) Valid() bool {
	return k.ThreadID != "" && k.MessageID != ""
}

func (k Key) String() string {
	return k.ThreadID + "/" + k.MessageID
}

// Assignment is a staff member's claim on a message in a thread.
// Released claims keep their row with IsActive=false until the sweep drops them.
type Assignment struct {
	ID         string    `json:"id" bson:"assignment_id"`
	ThreadID   string    `json:"thread_id" bson:"thread_id"`
	MessageID  string    `json:"message_id" bson:"message_id"`
	AssignedTo string    `json:"assigned_to" bson:"assigned_to"`
	AssignedAt time.Time `json:"assigned_at" bson:"assigned_at"`
	IsActive   bool      `json:"is_active" bson:"is_active"`
}

func (a Assignment) Key() Key {
	return Key{ThreadID: a.ThreadID, MessageID: a.MessageID}
}

// AssignResult is the outcome of a claim attempt.
// When Assigned is false, Current holds the blocking claim.
type AssignResult struct {
	Assigned bool        `json:"assigned"`
	Current  Assignment  `json:"current"`
	Previous *Assignment `json:"previous,omitempty"`
}

// Status is the per-thread view derived from the active claims.
type Status struct {
	IsAssigned  bool       `json:"is_assigned"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	MessageID   string     `json:"message_id,omitempty"`
	CanTakeOver bool       `json:"can_take_over"`
}

// IsAssignedTo reports whether the thread is claimed by userID.
func (s Status) IsAssignedTo(userID string) bool {
	return s.IsAssigned && s.AssignedTo == userID
}

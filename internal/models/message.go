package models

import "time"

// Message is a staff reply appended to a thread once its claim gate passed.
type Message struct {
	ID        string    `json:"id" bson:"message_id"`
	ThreadID  string    `json:"thread_id" bson:"thread_id"`
	AuthorID  string    `json:"author_id" bson:"author_id"`
	Body      string    `json:"body" bson:"body"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

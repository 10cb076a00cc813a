// Package model defines data structures shared by the client and the fake
// document store.
package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Validation errors for Document.
var (
	ErrEmptyID     = errors.New("document ID cannot be empty")
	ErrIDTooLong   = errors.New("document ID cannot exceed 512 characters")
	ErrEmptyBody   = errors.New("document body cannot be empty")
	ErrInvalidBody = errors.New("document body must be a JSON object")
)

// Validation constants.
const (
	MaxIDLength = 512
)

// Document is a JSON document stored in a database.
type Document struct {
	ID           string          `json:"id"`
	Body         json.RawMessage `json:"body"`
	ETag         string          `json:"etag,omitempty"`
	LastModified time.Time       `json:"last_modified"`
}

// Validate checks if the Document has valid field values.
func (d *Document) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}

	if len(d.ID) > MaxIDLength {
		return ErrIDTooLong
	}

	if len(d.Body) == 0 {
		return ErrEmptyBody
	}

	var obj map[string]any
	if err := json.Unmarshal(d.Body, &obj); err != nil {
		return ErrInvalidBody
	}

	return nil
}

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ChangeNotification is a message pushed over a change subscription.
type ChangeNotification struct {
	Type       string    `json:"type"`
	Database   string    `json:"database"`
	DocumentID string    `json:"document_id,omitempty"`
	ETag       string    `json:"etag,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Change notification types.
const (
	ChangeTypePut    = "put"
	ChangeTypeDelete = "delete"
)

// NewChangeNotification creates a change notification stamped with the
// current time.
func NewChangeNotification(changeType, database, id, etag string) ChangeNotification {
	return ChangeNotification{
		Type:       changeType,
		Database:   database,
		DocumentID: id,
		ETag:       etag,
		Timestamp:  time.Now().UTC(),
	}
}

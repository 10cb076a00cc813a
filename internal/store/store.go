// Package store provides document storage for the fake document store.
package store

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/docstore-client/internal/model"
)

// Store errors.
var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidID       = errors.New("invalid document ID")
	ErrInvalidDatabase = errors.New("invalid database name")
	ErrNilDocument     = errors.New("document cannot be nil")
)

// Store defines the interface for document storage operations.
type Store interface {
	// List returns all documents of a database.
	List(ctx context.Context, database string) ([]model.Document, error)

	// Get retrieves a document by its ID.
	Get(ctx context.Context, database, id string) (*model.Document, error)

	// Put creates or replaces a document and returns the stored version.
	Put(ctx context.Context, database string, doc *model.Document) (*model.Document, error)

	// Delete removes a document by its ID.
	Delete(ctx context.Context, database, id string) error
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/docstore-client/internal/model"
)

// MemoryStore implements Store interface with in-memory storage.
type MemoryStore struct {
	mu        sync.RWMutex
	databases map[string]map[string]model.Document
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		databases: make(map[string]map[string]model.Document),
	}
}

// List returns all documents of a database ordered by ID.
func (s *MemoryStore) List(ctx context.Context, database string) ([]model.Document, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("list documents: %w", ctx.Err())
	default:
	}

	if database == "" {
		return nil, ErrInvalidDatabase
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]model.Document, 0, len(s.databases[database]))
	for _, doc := range s.databases[database] {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	return docs, nil
}

// Get retrieves a document by its ID.
func (s *MemoryStore) Get(ctx context.Context, database, id string) (*model.Document, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get document: %w", ctx.Err())
	default:
	}

	if database == "" {
		return nil, ErrInvalidDatabase
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.databases[database][id]
	if !exists {
		return nil, ErrNotFound
	}

	return &doc, nil
}

// Put creates or replaces a document. Every write gets a new ETag.
func (s *MemoryStore) Put(ctx context.Context, database string, doc *model.Document) (*model.Document, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("put document: %w", ctx.Err())
	default:
	}

	if database == "" {
		return nil, ErrInvalidDatabase
	}
	if doc == nil {
		return nil, ErrNilDocument
	}
	if doc.ID == "" {
		return nil, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.databases[database]
	if !ok {
		docs = make(map[string]model.Document)
		s.databases[database] = docs
	}

	stored := model.Document{
		ID:           doc.ID,
		Body:         append([]byte(nil), doc.Body...),
		ETag:         uuid.New().String(),
		LastModified: time.Now().UTC(),
	}
	docs[doc.ID] = stored

	return &stored, nil
}

// Delete removes a document by its ID.
func (s *MemoryStore) Delete(ctx context.Context, database, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("delete document: %w", ctx.Err())
	default:
	}

	if database == "" {
		return ErrInvalidDatabase
	}
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.databases[database][id]; !exists {
		return ErrNotFound
	}

	delete(s.databases[database], id)

	return nil
}

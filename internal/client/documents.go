package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/docstore-client/internal/model"
)

// StatusError is returned by the document helpers for non-success
// responses that were not turned into an authentication error.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// DocumentPath returns the path of a document in a database.
func DocumentPath(database, id string) string {
	return "databases/" + url.PathEscape(database) + "/docs/" + url.PathEscape(id)
}

// GetDocument fetches a document.
func (c *Client) GetDocument(ctx context.Context, database, id string) (*model.Document, error) {
	resp, err := c.Get(ctx, DocumentPath(database, id))
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get document %s: %w", id, statusError(resp))
	}

	var doc model.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return &doc, nil
}

// PutDocument stores a document and returns the stored version.
func (c *Client) PutDocument(ctx context.Context, database string, doc *model.Document) (*model.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("put document: %w", err)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	req, err := c.NewRequest(ctx, http.MethodPut, DocumentPath(database, doc.ID), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put document %s: %w", doc.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("put document %s: %w", doc.ID, statusError(resp))
	}

	var stored model.Document
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", doc.ID, err)
	}
	return &stored, nil
}

// statusError builds a StatusError from a response, using the server's
// JSON error message when there is one.
func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	var er model.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: er.Message}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
}

package fakestore

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/model"
	"github.com/vyrodovalexey/docstore-client/internal/store"
)

// Version is the fake store version reported by /health.
const Version = "1.0.0"

// maxDocumentSize bounds a PUT body.
const maxDocumentSize = 1 << 20

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Mode    string `json:"mode"`
}

// documentHandler serves the document routes.
type documentHandler struct {
	store  store.Store
	hub    *changesHub
	mode   string
	logger *zap.Logger
}

// registerRoutes registers the document routes with the router.
func (h *documentHandler) registerRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/databases/{db}/docs", h.listDocuments).Methods(http.MethodGet)
	router.HandleFunc("/databases/{db}/docs/{id}", h.getDocument).Methods(http.MethodGet)
	router.HandleFunc("/databases/{db}/docs/{id}", h.putDocument).Methods(http.MethodPut)
	router.HandleFunc("/databases/{db}/docs/{id}", h.deleteDocument).Methods(http.MethodDelete)
}

// healthCheck handles GET /health requests.
func (h *documentHandler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Mode:    h.mode,
	})
}

// listDocuments handles GET /databases/{db}/docs requests.
func (h *documentHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context(), mux.Vars(r)["db"])
	if err != nil {
		h.handleStoreError(w, err, "list documents")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, docs)
}

// getDocument handles GET /databases/{db}/docs/{id} requests.
func (h *documentHandler) getDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	doc, err := h.store.Get(r.Context(), vars["db"], vars["id"])
	if err != nil {
		h.handleStoreError(w, err, "get document")
		return
	}

	if doc.ETag != "" {
		w.Header().Set("ETag", `"`+doc.ETag+`"`)
	}
	writeJSON(w, h.logger, http.StatusOK, doc)
}

// putDocument handles PUT /databases/{db}/docs/{id} requests. The ID in
// the path wins over one in the body.
func (h *documentHandler) putDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	db, id := vars["db"], vars["id"]

	var input model.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentSize)).Decode(&input); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	input.ID = id

	if err := input.Validate(); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	_, getErr := h.store.Get(r.Context(), db, id)
	created := errors.Is(getErr, store.ErrNotFound)

	stored, err := h.store.Put(r.Context(), db, &input)
	if err != nil {
		h.handleStoreError(w, err, "put document")
		return
	}

	h.hub.publish(model.NewChangeNotification(model.ChangeTypePut, db, stored.ID, stored.ETag))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, h.logger, status, stored)
}

// deleteDocument handles DELETE /databases/{db}/docs/{id} requests.
func (h *documentHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	db, id := vars["db"], vars["id"]

	if err := h.store.Delete(r.Context(), db, id); err != nil {
		h.handleStoreError(w, err, "delete document")
		return
	}

	h.hub.publish(model.NewChangeNotification(model.ChangeTypeDelete, db, id, ""))
	w.WriteHeader(http.StatusNoContent)
}

// handleStoreError maps store errors to HTTP responses.
func (h *documentHandler) handleStoreError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, "document not found")
	case errors.Is(err, store.ErrInvalidID):
		writeError(w, h.logger, http.StatusBadRequest, "invalid document ID")
	case errors.Is(err, store.ErrInvalidDatabase):
		writeError(w, h.logger, http.StatusBadRequest, "invalid database name")
	default:
		h.logger.Error("store operation failed", zap.String("operation", operation), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	writeJSON(w, logger, status, model.ErrorResponse{
		Code:    status,
		Message: message,
	})
}

package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

type documentRequest struct {
	Title   string       `json:"title"`
	Content *delta.Delta `json:"content"`
}

type documentResponse struct {
	ID      protocol.DocumentID `json:"id"`
	Title   string              `json:"title"`
	Content *delta.Delta        `json:"content,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// documentsAPI serves the CRUD collaborator endpoints.
type documentsAPI struct {
	store  *Store
	logger log.Log
}

// register mounts the API on a /documents subrouter.
func (a *documentsAPI) register(router *mux.Router, token string) {
	docs := router.PathPrefix("/documents").Subrouter()
	docs.Use(logRequests(a.logger))

	docs.HandleFunc("", a.list).Methods(http.MethodGet)
	docs.HandleFunc("", a.create).Methods(http.MethodPost)
	docs.HandleFunc("/{id:[0-9]+}", a.get).Methods(http.MethodGet)
	docs.HandleFunc("/{id:[0-9]+}", a.put).Methods(http.MethodPut)
	docs.Handle("/{id:[0-9]+}", requireBearer(token, http.HandlerFunc(a.delete))).Methods(http.MethodDelete)
}

func (a *documentsAPI) list(w http.ResponseWriter, _ *http.Request) {
	docs := a.store.List()
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentResponse{ID: doc.ID, Title: doc.Title})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *documentsAPI) create(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := a.store.Create(req.Title, req.Content)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	a.logger.Info("Document created", log.Int64("document_id", int64(doc.ID)))
	writeJSON(w, http.StatusCreated, toResponse(doc))
}

func (a *documentsAPI) get(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := a.store.Get(id)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(doc))
}

func (a *documentsAPI) put(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req documentRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := a.store.Put(id, req.Title, req.Content)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	a.logger.Info("Document saved", log.Int64("document_id", int64(id)), log.Int("length", doc.Content.Length()))
	writeJSON(w, http.StatusOK, toResponse(doc))
}

func (a *documentsAPI) delete(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err = a.store.Delete(id); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	a.logger.Info("Document deleted", log.Int64("document_id", int64(id)))
	w.WriteHeader(http.StatusNoContent)
}

func documentID(r *http.Request) (protocol.DocumentID, error) {
	return protocol.ParseDocumentID(mux.Vars(r)["id"])
}

func toResponse(doc Document) documentResponse {
	return documentResponse{ID: doc.ID, Title: doc.Title, Content: doc.Content}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

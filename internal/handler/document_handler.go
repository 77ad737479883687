package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"
	"docvault-server/internal/middleware"
	"docvault-server/internal/service"
	"docvault-server/pkg/pagination"
	"docvault-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// DocumentHandler serves every routed document type. Mutating handlers run
// behind the concurrency guard and work on the admitted document.
type DocumentHandler struct {
	service  *service.DocumentService
	validate *validator.Validate
	log      *logger.Logger
}

func NewDocumentHandler(service *service.DocumentService, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:  service,
		validate: validator.New(),
		log:      log.Component("documents"),
	}
}

// Resolver loads the document named by the {id} route variable for the guard.
func (h *DocumentHandler) Resolver(typ domain.DocumentType) middleware.Resolver {
	return func(r *http.Request) (*domain.Document, error) {
		id, ok := mux.Vars(r)["id"]
		if !ok {
			return nil, nil
		}
		return h.service.Resolve(r.Context(), typ, id, middleware.GetUserID(r))
	}
}

func documentLocation(typ domain.DocumentType, id string) string {
	return "/api/v1/" + typ.Name + "/" + id
}

func writeDocument(w http.ResponseWriter, status int, doc *domain.Document) {
	w.Header().Set("ETag", middleware.ETag(doc.DocVersion))
	response.JSON(w, status, doc.ToResponse())
}

func (h *DocumentHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func (h *DocumentHandler) List(typ domain.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := h.service.List(r.Context(), typ, middleware.GetUserID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		out := make([]*domain.DocumentResponse, 0, len(docs))
		for _, d := range docs {
			out = append(out, d.ToResponse())
		}
		response.Success(w, out)
	}
}

func (h *DocumentHandler) Create(typ domain.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreateDocumentRequest
		if !h.decode(w, r, &req) {
			return
		}

		doc, err := h.service.Create(r.Context(), typ, middleware.GetUserID(r), "", req.Payload)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		w.Header().Set("Location", documentLocation(typ, doc.ID))
		writeDocument(w, http.StatusCreated, doc)
	}
}

func (h *DocumentHandler) Get(typ domain.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := h.service.Get(r.Context(), typ, mux.Vars(r)["id"], middleware.GetUserID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeDocument(w, http.StatusOK, doc)
	}
}

// Update serves PUT (replace) and PATCH (merge).
func (h *DocumentHandler) Update(typ domain.DocumentType, mode domain.ChangeMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admission, ok := middleware.AdmissionFrom(r)
		if !ok || admission.Document == nil {
			response.InternalError(w, "Request was not admitted")
			return
		}

		var req domain.UpdateDocumentRequest
		if !h.decode(w, r, &req) {
			return
		}

		doc, err := h.service.Update(r.Context(), typ, admission.Document, domain.Change{Mode: mode, Payload: req.Payload})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeDocument(w, http.StatusOK, doc)
	}
}

func (h *DocumentHandler) Delete(typ domain.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admission, ok := middleware.AdmissionFrom(r)
		if !ok || admission.Document == nil {
			response.InternalError(w, "Request was not admitted")
			return
		}

		doc, err := h.service.Delete(r.Context(), typ, admission.Document)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		w.Header().Set("ETag", middleware.ETag(doc.DocVersion))
		response.Success(w, map[string]interface{}{
			"id":          doc.ID,
			"doc_version": doc.DocVersion,
			"deleted":     true,
		})
	}
}

func (h *DocumentHandler) History(typ domain.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := pagination.FromQuery(r.URL.Query())
		if err != nil {
			var perr *pagination.Error
			if errors.As(err, &perr) {
				response.Fail(w, http.StatusBadRequest, "invalid_pagination", response.Details{perr.Field: perr.Message})
				return
			}
			response.BadRequest(w, err.Error())
			return
		}

		result, err := h.service.History(r.Context(), typ, mux.Vars(r)["id"], middleware.GetUserID(r), page)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		response.Success(w, result)
	}
}

func (h *DocumentHandler) HistoryVersion(typ domain.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		version, err := strconv.ParseInt(vars["version"], 10, 64)
		if err != nil || version < domain.InitialVersion {
			response.Fail(w, http.StatusBadRequest, "invalid_version", response.Details{"version": "must be number > 0"})
			return
		}

		snap, err := h.service.HistoryVersion(r.Context(), typ, vars["id"], middleware.GetUserID(r), version)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		response.Success(w, snap.ToResponse())
	}
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *domain.PreconditionError
	switch {
	case errors.As(err, &perr):
		middleware.WritePreconditionFailure(w, perr)
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Document not found")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "Access denied")
	case errors.Is(err, domain.ErrHistoryNotRetained):
		response.NotFound(w, "History is not kept for this document type")
	case errors.Is(err, domain.ErrInvariantViolation):
		h.log.Error("invariant violation").Str("path", r.URL.Path).Err(err).Send()
		response.InternalError(w, "Internal consistency error")
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn("store unavailable").Str("path", r.URL.Path).Err(err).Send()
		response.ServiceUnavailable(w, "Document store unavailable")
	default:
		h.log.Error("request failed").Str("path", r.URL.Path).Err(err).Send()
		response.InternalError(w, "Internal server error")
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"
	"docvault-server/internal/metrics"
	"docvault-server/pkg/response"
)

const admissionKey contextKey = "admission"

// Resolver loads the document a request targets and checks the caller may
// touch it. It returns domain.ErrForbidden for someone else's document.
type Resolver func(r *http.Request) (*domain.Document, error)

type GuardPolicy struct {
	DocumentType string
	// RequirePrecondition rejects requests without If-Match with 428.
	RequirePrecondition bool
	// AllowMissing lets the request through when the resolver finds nothing.
	AllowMissing bool
}

// Admission is what the guard hands to the handler: the document as it was
// when the precondition was checked, and the client's token (nil if none).
type Admission struct {
	Document *domain.Document
	Token    *int64
}

func AdmissionFrom(r *http.Request) (Admission, bool) {
	a, ok := r.Context().Value(admissionKey).(Admission)
	return a, ok
}

func WithAdmission(ctx context.Context, a Admission) context.Context {
	return context.WithValue(ctx, admissionKey, a)
}

// ConcurrencyGuard rejects requests whose If-Match does not match the stored
// document version. It takes no locks; the store's conditional commit catches
// anyone who changes the document after this check.
func ConcurrencyGuard(resolve Resolver, policy GuardPolicy, log *logger.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	log = log.Component("concurrency-guard")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			doc, err := resolve(r)
			if err != nil {
				if !(policy.AllowMissing && errors.Is(err, domain.ErrNotFound)) {
					writeResolveError(w, log, err)
					return
				}
				doc = nil
			}

			token, err := ExtractPrecondition(r.Header.Get(IfMatchHeader), doc)
			if err == nil && token == nil && policy.RequirePrecondition {
				err = &domain.PreconditionError{Err: domain.ErrPreconditionRequired, Current: currentVersion(doc)}
			}

			var perr *domain.PreconditionError
			if errors.As(err, &perr) {
				m.RecordPreconditionFailure(policy.DocumentType, perr.Code())
				log.Info("precondition rejected").
					Str("doc_type", policy.DocumentType).
					Str("path", r.URL.Path).
					Str("reason", perr.Code()).
					Int64("expected", perr.Expected).
					Int64("current", perr.Current).
					Send()
				WritePreconditionFailure(w, perr)
				return
			}

			ctx := WithAdmission(r.Context(), Admission{Document: doc, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeResolveError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Document not found")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "Access denied")
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("resolve failed").Err(err).Send()
		response.ServiceUnavailable(w, "Document store unavailable")
	default:
		log.Error("resolve failed").Err(err).Send()
		response.InternalError(w, "Failed to load document")
	}
}

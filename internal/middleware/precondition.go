package middleware

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"docvault-server/internal/domain"
	"docvault-server/pkg/response"
)

const IfMatchHeader = "If-Match"

// A precondition is a bare decimal version or the quoted form we hand out in
// ETag headers.
var versionTokenPattern = regexp.MustCompile(`^(?:"([0-9]+)"|([0-9]+))$`)

// ExtractPrecondition parses an If-Match header value. It returns nil when no
// precondition was sent, and a *domain.PreconditionError when the value is not
// a version or when doc is already past it.
func ExtractPrecondition(header string, doc *domain.Document) (*int64, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return nil, nil
	}

	m := versionTokenPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, &domain.PreconditionError{Err: domain.ErrMalformedPrecondition, Header: header, Current: currentVersion(doc)}
	}
	digits := m[1] + m[2]

	token, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, &domain.PreconditionError{Err: domain.ErrMalformedPrecondition, Header: header, Current: currentVersion(doc)}
	}

	if doc != nil && doc.DocVersion != token {
		return nil, domain.NewVersionMismatch(token, doc.DocVersion)
	}
	return &token, nil
}

func currentVersion(doc *domain.Document) int64 {
	if doc == nil {
		return -1
	}
	return doc.DocVersion
}

// ETag renders a document version the way clients send it back in If-Match.
func ETag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}

// WritePreconditionFailure answers a rejected precondition: 428 when one was
// required but missing, 412 otherwise.
func WritePreconditionFailure(w http.ResponseWriter, err *domain.PreconditionError) {
	status := http.StatusPreconditionFailed
	if err.Code() == "precondition_required" {
		status = http.StatusPreconditionRequired
	}

	details := response.Details{IfMatchHeader: err.Reason()}
	if err.Current >= 0 {
		details["current_version"] = strconv.FormatInt(err.Current, 10)
	}
	response.Fail(w, status, err.Code(), details, err.Error())
}

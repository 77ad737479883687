package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docvault-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docAt(version int64) *domain.Document {
	return &domain.Document{ID: "n1", Type: "notes", OwnerID: "alice", Versioned: domain.Versioned{DocVersion: version}}
}

func TestExtractPreconditionAbsent(t *testing.T) {
	for _, header := range []string{"", "   "} {
		token, err := ExtractPrecondition(header, docAt(3))
		assert.NoError(t, err)
		assert.Nil(t, token)
	}
}

func TestExtractPreconditionAccepted(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{header: "3", want: 3},
		{header: `"3"`, want: 3},
		{header: "  3 ", want: 3},
		{header: `  "3"`, want: 3},
		{header: "003", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, err := ExtractPrecondition(tt.header, docAt(3))
			require.NoError(t, err)
			require.NotNil(t, token)
			assert.Equal(t, tt.want, *token)
		})
	}
}

func TestExtractPreconditionMalformed(t *testing.T) {
	for _, header := range []string{"abc", "-1", "1.5", `W/"3"`, "*", `"3", "4"`, `"3`, "99999999999999999999"} {
		t.Run(header, func(t *testing.T) {
			token, err := ExtractPrecondition(header, docAt(3))
			assert.Nil(t, token)
			require.ErrorIs(t, err, domain.ErrMalformedPrecondition)

			var perr *domain.PreconditionError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "malformed_precondition", perr.Code())
			assert.Equal(t, int64(3), perr.Current)
		})
	}
}

func TestExtractPreconditionMismatch(t *testing.T) {
	token, err := ExtractPrecondition("2", docAt(3))
	assert.Nil(t, token)
	require.ErrorIs(t, err, domain.ErrVersionMismatch)

	var perr *domain.PreconditionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, int64(2), perr.Expected)
	assert.Equal(t, int64(3), perr.Current)
}

func TestExtractPreconditionWithoutDocument(t *testing.T) {
	token, err := ExtractPrecondition("7", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *token)
}

func TestETagRoundTrips(t *testing.T) {
	assert.Equal(t, `"12"`, ETag(12))

	token, err := ExtractPrecondition(ETag(12), docAt(12))
	require.NoError(t, err)
	assert.Equal(t, int64(12), *token)
}

func TestWritePreconditionFailureStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WritePreconditionFailure(rec, &domain.PreconditionError{Err: domain.ErrPreconditionRequired, Current: 2})
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)

	rec = httptest.NewRecorder()
	WritePreconditionFailure(rec, domain.NewVersionMismatch(1, -1))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.NotContains(t, rec.Body.String(), "current_version")
}

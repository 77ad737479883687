package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // keep a developer .env out of the test

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 15*time.Minute, cfg.JWT.Expiration)
	assert.Equal(t, 168*time.Hour, cfg.JWT.RefreshTokenExpiration)
	assert.Contains(t, cfg.CORS.AllowedMethods, "PATCH")
	assert.Contains(t, cfg.CORS.AllowedHeaders, "If-Match")
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.Documents.RequirePrecondition)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("JWT_EXPIRATION", "1h")
	t.Setenv("WS_MAX_CONN_PER_USER", "2")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLitePath)
	assert.Equal(t, time.Hour, cfg.JWT.Expiration)
	assert.Equal(t, 2, cfg.WebSocket.MaxConnPerUser)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"JWT_EXPIRATION": "soon"}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "redis"}},
		{"default secret in production", map[string]string{"ENV": "production"}},
		{"relative metrics path", map[string]string{"METRICS_PATH": "metrics"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDocumentTypesDefaults(t *testing.T) {
	cfg := &Config{Documents: DocumentsConfig{RequirePrecondition: false}}

	reg, err := cfg.DocumentTypes()
	require.NoError(t, err)

	notes, ok := reg.Lookup("notes")
	require.True(t, ok)
	assert.True(t, notes.Historized)
	assert.False(t, notes.RequirePrecondition)
}

func TestLoadDocumentTypesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
types:
  - name: articles
    historized: true
  - name: settings
    require_precondition: false
`), 0o600))

	reg, err := LoadDocumentTypes(path, true)
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "articles", all[0].Name)
	assert.True(t, all[0].Historized)
	assert.True(t, all[0].RequirePrecondition)
	assert.Equal(t, "settings", all[1].Name)
	assert.False(t, all[1].Historized)
	assert.False(t, all[1].RequirePrecondition)
}

func TestParseDocumentTypesRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":     "types: []",
		"reserved":  "types:\n  - name: users\n",
		"duplicate": "types:\n  - name: a\n  - name: a\n",
		"bad name":  "types:\n  - name: Has Spaces\n",
		"not yaml":  "types: [",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocumentTypes([]byte(doc), true)
			assert.Error(t, err)
		})
	}
}

func TestLoadDocumentTypesMissingFile(t *testing.T) {
	_, err := LoadDocumentTypes(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (stand-in for testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

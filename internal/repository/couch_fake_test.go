package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"docvault-server/internal/logger"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
	"github.com/stretchr/testify/require"
)

// fakeCouch serves the slice of the CouchDB HTTP API the couch store talks
// to: database HEAD/PUT, document GET/PUT with _rev checks, _find with
// equality selectors and _all_docs key ranges. Writes are serialized, so a
// stale _rev is refused with 409 the way a real node refuses it.
type fakeCouch struct {
	mu  sync.Mutex
	dbs map[string]map[string]map[string]interface{}

	hookPrefix string
	hook       func()
}

func newFakeCouch() *fakeCouch {
	return &fakeCouch{dbs: make(map[string]map[string]map[string]interface{})}
}

// onGet runs fn once, the next time a document whose id starts with prefix is
// read. The response is captured before fn runs and sent after it returns, so
// the reader sees the state from before fn.
func (f *fakeCouch) onGet(prefix string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hookPrefix = prefix
	f.hook = fn
}

// seed stores raw documents in db, bypassing revision checks.
func (f *fakeCouch) seed(db string, docs ...map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dbs[db] == nil {
		f.dbs[db] = make(map[string]map[string]interface{})
	}
	for _, doc := range docs {
		id := doc["_id"].(string)
		doc["_rev"] = "1-seed"
		f.dbs[db][id] = normalizeJSON(doc)
	}
}

func (f *fakeCouch) has(db, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.dbs[db][id]
	return ok
}

func normalizeJSON(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

func writeCouchJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeCouchError(w http.ResponseWriter, status int, name, reason string) {
	writeCouchJSON(w, status, map[string]string{"error": name, "reason": reason})
}

func (f *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dbName, docID, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case docID == "":
		f.serveDB(w, r, dbName)
	case docID == "_find" && r.Method == http.MethodPost:
		f.find(w, r, dbName)
	case docID == "_all_docs" && r.Method == http.MethodGet:
		f.allDocs(w, r, dbName)
	case r.Method == http.MethodGet:
		f.getDoc(w, dbName, docID)
	case r.Method == http.MethodPut:
		f.putDoc(w, r, dbName, docID)
	default:
		writeCouchError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (f *fakeCouch) serveDB(w http.ResponseWriter, r *http.Request, dbName string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.dbs[dbName]
	switch r.Method {
	case http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if exists {
			writeCouchError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
			return
		}
		f.dbs[dbName] = make(map[string]map[string]interface{})
		writeCouchJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	default:
		writeCouchError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (f *fakeCouch) getDoc(w http.ResponseWriter, dbName, docID string) {
	f.mu.Lock()
	doc, ok := f.dbs[dbName][docID]
	var (
		body []byte
		err  error
	)
	if ok {
		body, err = json.Marshal(doc)
	}
	var hook func()
	if f.hook != nil && strings.HasPrefix(docID, f.hookPrefix) {
		hook, f.hook = f.hook, nil
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	switch {
	case !ok:
		writeCouchError(w, http.StatusNotFound, "not_found", "missing")
	case err != nil:
		writeCouchError(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", strconv.Quote(doc["_rev"].(string)))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func revGeneration(rev string) int {
	n, _ := strconv.Atoi(strings.SplitN(rev, "-", 2)[0])
	return n
}

func (f *fakeCouch) putDoc(w http.ResponseWriter, r *http.Request, dbName, docID string) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeCouchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	db, ok := f.dbs[dbName]
	if !ok {
		writeCouchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	rev, _ := doc["_rev"].(string)
	existing, exists := db[docID]
	if exists && existing["_rev"] != rev || !exists && rev != "" {
		writeCouchError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}

	next := fmt.Sprintf("%d-fake", revGeneration(rev)+1)
	doc["_id"] = docID
	doc["_rev"] = next
	db[docID] = doc
	writeCouchJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "id": docID, "rev": next})
}

// sortedIDs must be called with mu held.
func (f *fakeCouch) sortedIDs(dbName string) []string {
	ids := make([]string, 0, len(f.dbs[dbName]))
	for id := range f.dbs[dbName] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeCouch) find(w http.ResponseWriter, r *http.Request, dbName string) {
	var query struct {
		Selector map[string]interface{} `json:"selector"`
		Limit    int                    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeCouchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	docs := []map[string]interface{}{}
	for _, id := range f.sortedIDs(dbName) {
		doc := f.dbs[dbName][id]
		matches := true
		for field, want := range query.Selector {
			if !reflect.DeepEqual(doc[field], want) {
				matches = false
				break
			}
		}
		if matches {
			docs = append(docs, doc)
		}
		if query.Limit > 0 && len(docs) == query.Limit {
			break
		}
	}
	writeCouchJSON(w, http.StatusOK, map[string]interface{}{"docs": docs})
}

type fakeRow struct {
	ID    string                 `json:"id"`
	Key   string                 `json:"key"`
	Value map[string]string      `json:"value"`
	Doc   map[string]interface{} `json:"doc,omitempty"`
}

func (f *fakeCouch) allDocs(w http.ResponseWriter, r *http.Request, dbName string) {
	q := r.URL.Query()
	var start, end string
	if v := q.Get("startkey"); v != "" {
		if err := json.Unmarshal([]byte(v), &start); err != nil {
			writeCouchError(w, http.StatusBadRequest, "bad_request", "invalid startkey")
			return
		}
	}
	if v := q.Get("endkey"); v != "" {
		if err := json.Unmarshal([]byte(v), &end); err != nil {
			writeCouchError(w, http.StatusBadRequest, "bad_request", "invalid endkey")
			return
		}
	}
	includeDocs := q.Get("include_docs") == "true"

	f.mu.Lock()
	defer f.mu.Unlock()

	ids := f.sortedIDs(dbName)
	rows := []fakeRow{}
	for _, id := range ids {
		if id < start || end != "" && id > end {
			continue
		}
		doc := f.dbs[dbName][id]
		row := fakeRow{ID: id, Key: id, Value: map[string]string{"rev": doc["_rev"].(string)}}
		if includeDocs {
			row.Doc = doc
		}
		rows = append(rows, row)
	}

	writeCouchJSON(w, http.StatusOK, struct {
		TotalRows int       `json:"total_rows"`
		Offset    int       `json:"offset"`
		Rows      []fakeRow `json:"rows"`
	}{len(ids), 0, rows})
}

const fakeCouchDB = "docvault_test"

func newFakeCouchStore(t *testing.T) (*CouchStore, *fakeCouch) {
	t.Helper()

	fake := newFakeCouch()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := kivik.New("couch", srv.URL)
	require.NoError(t, err)

	store, err := NewCouchStore(context.Background(), client, fakeCouchDB, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, fake
}

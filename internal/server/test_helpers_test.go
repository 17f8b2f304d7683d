package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/cache"
	"github.com/MarcoPoloResearchLab/superdialer/internal/database"
	"github.com/MarcoPoloResearchLab/superdialer/internal/dialer"
	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"github.com/MarcoPoloResearchLab/superdialer/internal/notes"
	"github.com/MarcoPoloResearchLab/superdialer/internal/realtime"
	"github.com/gin-gonic/gin"
)

type fixedReader struct {
	calls    []history.CallRecord
	contacts map[string]string
}

func (r fixedReader) ReadCallHistory(context.Context) []history.CallRecord {
	return append([]history.CallRecord{}, r.calls...)
}

func (r fixedReader) ReadContacts(context.Context) map[string]string {
	contacts := make(map[string]string, len(r.contacts))
	for key, value := range r.contacts {
		contacts[key] = value
	}
	return contacts
}

func sampleReader() fixedReader {
	return fixedReader{
		calls: []history.CallRecord{
			{Number: "+1555", Direction: history.DirectionMissed, Timestamp: time.UnixMilli(1700000300000).UTC()},
			{Number: "+1666", Direction: history.DirectionIncoming, Timestamp: time.UnixMilli(1700000200000).UTC(), Duration: 42 * time.Second},
		},
		contacts: map[string]string{"+1666": "Bob"},
	}
}

func newTestCoordinator(t *testing.T, reader history.Reader) *dialer.Coordinator {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	dispatcher := realtime.NewDispatcher()
	store, err := notes.NewStore(notes.StoreConfig{
		Database:   db,
		IDProvider: notes.NewUUIDProvider(),
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	snapshotCache, err := cache.New(cache.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	coordinator, err := dialer.NewCoordinator(dialer.CoordinatorConfig{
		Store:      store,
		Reader:     reader,
		Cache:      snapshotCache,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return coordinator
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Coordinator == nil {
		deps.Coordinator = newTestCoordinator(t, sampleReader())
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func performRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

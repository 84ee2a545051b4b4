package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"refgate-bot/internal/ledger"
	"refgate-bot/internal/persist"
	"refgate-bot/internal/registry"
	"refgate-bot/internal/store"
)

func TestHealthEndpoints(t *testing.T) {
	l := ledger.New(persist.NewDirect(store.NewMemory()))
	l.GetOrCreateUser(1)
	l.GetOrCreateUser(2)

	s := NewServer(l, registry.Parse("@a,@b"), "memory")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", rec.Code)
	}

	var body struct {
		Status   string `json:"status"`
		Storage  string `json:"storage"`
		Users    int    `json:"users"`
		Channels int    `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad health body: %v", err)
	}
	if body.Status != "ok" || body.Storage != "memory" {
		t.Errorf("health body = %+v", body)
	}
	if body.Users != 2 || body.Channels != 2 {
		t.Errorf("counts = %+v, want 2 users and 2 channels", body)
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mem "engagekit/adapters/memory"
	"engagekit/core"
	"engagekit/engine"
)

func newTestService() *engine.EngageService {
	storage := mem.New()
	bus := engine.NewNotificationBus(engine.DispatchSync)
	return engine.NewEngageService(storage, bus, core.DefaultCatalog())
}

func TestRecordActivity(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	body := strings.NewReader(`{"kind": "post_created", "reference_id": "post-42"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/users/Alice/activities", body)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Notifications []core.Notification `json:"notifications"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	// the first post unlocks content_creator tier 1
	if len(resp.Notifications) != 1 || resp.Notifications[0].Type != core.NotificationBadgeUnlocked {
		t.Fatalf("unexpected notifications: %+v", resp.Notifications)
	}
}

func TestRecordActivityValidation(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	req := httptest.NewRequest(http.MethodPost, "/api/users/alice/activities", strings.NewReader(`{"kind": "  "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty kind, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/users/alice/activities", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", rec.Code)
	}
}

func TestCheckinTwice(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	req := httptest.NewRequest(http.MethodPost, "/api/users/alice/checkin", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var first engine.CheckinResult
	_ = json.Unmarshal(rec.Body.Bytes(), &first)
	if !first.Success || first.Streak != 1 {
		t.Fatalf("first checkin = %+v", first)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/users/alice/checkin", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var second engine.CheckinResult
	_ = json.Unmarshal(rec.Body.Bytes(), &second)
	if second.Success || !second.AlreadyCheckedIn {
		t.Fatalf("second checkin = %+v", second)
	}
}

func TestDuplicateCheckinViaActivitiesConflicts(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	body := `{"kind": "daily_checkin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/users/alice/activities", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/users/alice/activities", strings.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestAwardBadgeValidation(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	req := httptest.NewRequest(http.MethodPost, "/api/users/alice/awards/%20", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetStateUnknownUser(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	req := httptest.NewRequest(http.MethodGet, "/api/users/unknown/state", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var state engine.UserState
	_ = json.Unmarshal(rec.Body.Bytes(), &state)
	if state.Level != 1 || state.Experience != 0 {
		t.Fatalf("state = %+v", state)
	}
}

func TestGetProfile(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	body := strings.NewReader(`{"kind": "post_created"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/users/alice/activities", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/users/alice/profile", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view engine.ProfileView
	_ = json.Unmarshal(rec.Body.Bytes(), &view)
	// 10 activity points + 10 badge reward points
	if view.Points != 20 || view.Experience != 20 {
		t.Fatalf("view = %+v", view)
	}
	if len(view.EarnedBadges) != 1 {
		t.Fatalf("earned = %+v", view.EarnedBadges)
	}
}

func TestHealthz(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{PathPrefix: "/api"})

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/alice/state", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/users/alice/state", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
}

func TestRateLimit(t *testing.T) {
	svc := newTestService()
	handler := NewMux(svc, nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/api/users/alice/state", nil)
	req1.Header.Set("X-API-Key", "k")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/users/alice/state", nil)
	req2.Header.Set("X-API-Key", "k")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/model"
)

// tokenServer はパスワードとリフレッシュの両方のgrantに応答するテスト用ハンドラー。
type tokenServer struct {
	sessionTTL  time.Duration
	refreshHits atomic.Int32
	// refreshFn がnilでなければリフレッシュ時の応答を差し替える
	refreshFn func(w http.ResponseWriter, attempt int32) bool
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		writeJSON(w, http.StatusOK, wireSession("access-1", "refresh-1", testNow.Add(s.sessionTTL)))
	case "refresh_token":
		attempt := s.refreshHits.Add(1)
		if s.refreshFn != nil && s.refreshFn(w, attempt) {
			return
		}
		var req api.RefreshGrantRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "refresh-1" {
			writeAPIError(w, http.StatusBadRequest, model.NewInvalidRefreshTokenError())
			return
		}
		writeJSON(w, http.StatusOK, wireSession("access-2", "refresh-2", testNow.Add(time.Hour)))
	default:
		http.NotFound(w, r)
	}
}

func newRefreshClient(t *testing.T, ts *tokenServer) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("POST /auth/v1/token", ts)
	c := newTestClient(t, mux)
	if _, err := c.SignInWithPassword(context.Background(), "alice@example.com", "secret1"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	return c
}

func TestClient_RefreshSession_RotatesAndEmitsTokenRefreshed(t *testing.T) {
	c := newRefreshClient(t, &tokenServer{sessionTTL: time.Hour})

	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)

	session, err := c.RefreshSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.AccessToken != "access-2" || session.RefreshToken != "refresh-2" {
		t.Errorf("session = %+v", session)
	}
	if got := rec.kinds(); !equalEvents(got, []model.AuthEvent{model.AuthEventTokenRefreshed}) {
		t.Errorf("events = %v, want [TOKEN_REFRESHED]", got)
	}
}

func TestClient_RefreshSession_InvalidTokenSignsOut(t *testing.T) {
	ts := &tokenServer{
		sessionTTL: time.Hour,
		refreshFn: func(w http.ResponseWriter, attempt int32) bool {
			writeAPIError(w, http.StatusBadRequest, model.NewInvalidRefreshTokenError())
			return true
		},
	}
	c := newRefreshClient(t, ts)

	rec := &eventRecorder{}
	c.OnAuthStateChange(rec.listen)

	_, err := c.RefreshSession(context.Background())
	if !model.HasCode(err, model.ErrCodeInvalidRefreshToken) {
		t.Fatalf("error = %v, want INVALID_REFRESH_TOKEN", err)
	}
	if s, _ := c.GetSession(context.Background()); s != nil {
		t.Error("session should be cleared")
	}
	if got := rec.kinds(); !equalEvents(got, []model.AuthEvent{model.AuthEventSignedOut}) {
		t.Errorf("events = %v, want [SIGNED_OUT]", got)
	}
}

func TestClient_RefreshSession_WithoutSession(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())

	if _, err := c.RefreshSession(context.Background()); !model.HasCode(err, model.ErrCodeNoUser) {
		t.Errorf("error = %v, want NO_USER", err)
	}
}

func TestClient_RefreshIfNeeded_SkipsWhenNotExpiring(t *testing.T) {
	ts := &tokenServer{sessionTTL: time.Hour}
	c := newRefreshClient(t, ts)

	if err := c.refreshIfNeeded(context.Background(), 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.refreshHits.Load() != 0 {
		t.Errorf("refresh hits = %d, want 0", ts.refreshHits.Load())
	}
}

func TestClient_RefreshIfNeeded_RetriesTransientFailures(t *testing.T) {
	ts := &tokenServer{
		sessionTTL: time.Minute,
		refreshFn: func(w http.ResponseWriter, attempt int32) bool {
			if attempt == 1 {
				writeAPIError(w, http.StatusInternalServerError, model.NewInternalError())
				return true
			}
			return false
		},
	}
	c := newRefreshClient(t, ts)

	if err := c.refreshIfNeeded(context.Background(), 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.refreshHits.Load() != 2 {
		t.Errorf("refresh hits = %d, want 2", ts.refreshHits.Load())
	}
	s, _ := c.GetSession(context.Background())
	if s.AccessToken != "access-2" {
		t.Errorf("access token = %q, want access-2", s.AccessToken)
	}
}

func TestClient_RefreshIfNeeded_DoesNotRetryPermanentErrors(t *testing.T) {
	ts := &tokenServer{
		sessionTTL: time.Minute,
		refreshFn: func(w http.ResponseWriter, attempt int32) bool {
			writeAPIError(w, http.StatusBadRequest, model.NewInvalidRefreshTokenError())
			return true
		},
	}
	c := newRefreshClient(t, ts)

	err := c.refreshIfNeeded(context.Background(), 5*time.Minute)
	if !model.HasCode(err, model.ErrCodeInvalidRefreshToken) {
		t.Errorf("error = %v, want INVALID_REFRESH_TOKEN", err)
	}
	if ts.refreshHits.Load() != 1 {
		t.Errorf("refresh hits = %d, want 1", ts.refreshHits.Load())
	}
}

func TestClient_StartAutoRefresh(t *testing.T) {
	ts := &tokenServer{sessionTTL: time.Minute}
	c := newRefreshClient(t, ts)

	refreshed := make(chan struct{}, 1)
	c.OnAuthStateChange(func(change model.AuthStateChange) {
		if change.Event == model.AuthEventTokenRefreshed {
			select {
			case refreshed <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartAutoRefresh(ctx, 10*time.Millisecond, 5*time.Minute)

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("auto refresh did not run")
	}
}

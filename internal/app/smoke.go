package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mealdash/internal/backend"
	"github.com/hitoshi/mealdash/internal/config"
	"github.com/hitoshi/mealdash/internal/model"
	"github.com/hitoshi/mealdash/internal/session"
)

const smokeStepTimeout = 15 * time.Second

// smokeAccount はsmokeコマンドで使うアカウント。
// SMOKE_EMAILが空の場合は使い捨てのアカウントをサインアップする。
type smokeAccount struct {
	email    string
	password string
	signUp   bool
}

func newSmokeAccount(cfg *config.Config) smokeAccount {
	if cfg.SmokeEmail != "" {
		return smokeAccount{email: cfg.SmokeEmail, password: cfg.SmokePassword}
	}
	id := uuid.NewString()
	return smokeAccount{
		email:    fmt.Sprintf("smoke+%s@example.com", id[:8]),
		password: "smoke-" + id,
		signUp:   true,
	}
}

// runSmoke は稼働中のAPIに対してサインイン、プロフィール取得、更新、サインアウトを一通り実行する。
func runSmoke(ctx context.Context, cfg *config.Config) error {
	client := backend.NewClient(backend.Config{BaseURL: cfg.APIURL, Logger: slog.Default()})
	client.StartAutoRefresh(ctx, 30*time.Second, time.Minute)

	nav := &routeRecorder{}
	manager := session.NewManager(client, nav, nil, session.Config{Logger: slog.Default()})
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("smoke: failed to start session manager: %w", err)
	}
	defer manager.Close()

	return runSmokeFlow(ctx, manager, newSmokeAccount(cfg), nav)
}

// routeRecorder は遷移履歴を記録するNavigator。
type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) Navigate(route string) {
	slog.Info("smoke: navigate", slog.String("route", route))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *routeRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[len(r.routes)-1]
}

// runSmokeFlow はSessionManagerで一連の操作を実行し、期待した状態になることを確認する。
func runSmokeFlow(ctx context.Context, manager *session.Manager, acc smokeAccount, nav *routeRecorder) error {
	if acc.signUp {
		if err := manager.SignUp(ctx, acc.email, acc.password, "Smoke Test", model.RoleCustomer); err != nil {
			return fmt.Errorf("smoke: sign up failed: %w", err)
		}
		if manager.State().Status != session.StatusAuthenticated {
			return errors.New("smoke: account requires email confirmation; set AUTH_AUTO_CONFIRM=true or SMOKE_EMAIL")
		}
	} else {
		if err := manager.SignIn(ctx, acc.email, acc.password); err != nil {
			return fmt.Errorf("smoke: sign in failed: %w", err)
		}
	}

	state, err := waitState(ctx, manager, session.State.ProfileLoaded)
	if err != nil {
		return fmt.Errorf("smoke: profile was not loaded: %w", err)
	}
	slog.Info("smoke: signed in",
		slog.String("user_id", state.User.ID),
		slog.String("role", string(state.Profile.Role)),
	)

	if want := session.RouteForRole(state.Role()); nav.last() != want {
		return fmt.Errorf("smoke: redirected to %q, want %q", nav.last(), want)
	}

	name := state.Profile.FullName
	if err := manager.UpdateProfile(ctx, model.ProfileUpdate{FullName: &name}); err != nil {
		return fmt.Errorf("smoke: profile update failed: %w", err)
	}

	manager.SignOut(ctx)
	if _, err := waitState(ctx, manager, func(s session.State) bool {
		return s.Session == nil && s.Profile == nil
	}); err != nil {
		return fmt.Errorf("smoke: session was not cleared: %w", err)
	}

	slog.Info("smoke: completed", slog.String("email", acc.email))
	return nil
}

func waitState(ctx context.Context, manager *session.Manager, pred func(session.State) bool) (session.State, error) {
	ctx, cancel := context.WithTimeout(ctx, smokeStepTimeout)
	defer cancel()
	return manager.WaitFor(ctx, pred)
}

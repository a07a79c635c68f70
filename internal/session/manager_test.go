package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/mealdash/internal/backend"
	"github.com/hitoshi/mealdash/internal/model"
)

var _ Backend = (*backend.Client)(nil)

// --- テスト用のBackend ---

type fakeAccount struct {
	user     *model.User
	password string
}

// fakeBackend はメモリ上でリモートサービスを模倣する。
// 実際のSDKと同様に、イベントは呼び出しが戻る前に同期的に配信する。
type fakeBackend struct {
	mu        sync.Mutex
	session   *model.Session
	listeners map[int]func(model.AuthStateChange)
	nextID    int
	accounts  map[string]*fakeAccount
	profiles  map[string]*model.Profile

	// サインアップ時にサーバー側でプロフィールを作成しない
	skipServerProfile bool
	// サインインにメール確認を要求する
	confirmRequired bool

	getSessionErr error
	signOutErr    error
	updateErr     error
	fetchFn       func(ctx context.Context, userID string) (*model.Profile, error)

	signUpCalls int
	signInCalls int
	fetchCalls  int
	ensureCalls int
	updateCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		listeners: make(map[int]func(model.AuthStateChange)),
		accounts:  make(map[string]*fakeAccount),
		profiles:  make(map[string]*model.Profile),
	}
}

// addAccount はメール確認済みのアカウントとプロフィールを登録する。
func (f *fakeBackend) addAccount(email, password, fullName string, role model.Role) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addAccountLocked(email, password, fullName, role, true)
}

func (f *fakeBackend) addAccountLocked(email, password, fullName string, role model.Role, withProfile bool) *model.User {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user := &model.User{
		ID:               fmt.Sprintf("user-%d", len(f.accounts)+1),
		Email:            email,
		EmailConfirmedAt: &now,
		Metadata:         model.UserMetadata{FullName: fullName, Role: role},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	f.accounts[email] = &fakeAccount{user: user, password: password}
	if withProfile {
		f.profiles[user.ID] = model.NewProfile(user, now)
	}
	return user
}

func fakeSession(u *model.User) *model.Session {
	return &model.Session{
		AccessToken:  "at-" + u.ID,
		RefreshToken: "rt-" + u.ID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         u,
	}
}

func (f *fakeBackend) emit(event model.AuthEvent, s *model.Session) {
	f.mu.Lock()
	f.session = s
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(model.AuthStateChange), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(model.AuthStateChange{Event: event, Session: s})
	}
}

func (f *fakeBackend) GetSession(ctx context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getSessionErr
}

func (f *fakeBackend) OnAuthStateChange(fn func(model.AuthStateChange)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// SignUp は実際のSDKと同様に、セッションが発行された場合はSIGNED_INを発行する。
func (f *fakeBackend) SignUp(ctx context.Context, email, password string, meta model.UserMetadata) (*model.User, *model.Session, error) {
	f.mu.Lock()
	f.signUpCalls++
	if _, ok := f.accounts[email]; ok {
		f.mu.Unlock()
		return nil, nil, model.NewUserAlreadyRegisteredError()
	}
	user := f.addAccountLocked(email, password, meta.FullName, meta.Role, !f.skipServerProfile)
	if f.confirmRequired {
		user.EmailConfirmedAt = nil
		f.mu.Unlock()
		return user, nil, nil
	}
	s := fakeSession(user)
	f.mu.Unlock()

	f.emit(model.AuthEventSignedIn, s)
	return user, s, nil
}

func (f *fakeBackend) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	f.mu.Lock()
	f.signInCalls++
	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		f.mu.Unlock()
		return nil, model.NewInvalidCredentialsError()
	}
	if acc.user.EmailConfirmedAt == nil {
		f.mu.Unlock()
		return nil, model.NewEmailNotConfirmedError()
	}
	s := fakeSession(acc.user)
	f.mu.Unlock()

	f.emit(model.AuthEventSignedIn, s)
	return s, nil
}

func (f *fakeBackend) SignOut(ctx context.Context) error {
	f.emit(model.AuthEventSignedOut, nil)
	return f.signOutErr
}

func (f *fakeBackend) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	f.mu.Lock()
	f.fetchCalls++
	fetchFn := f.fetchFn
	f.mu.Unlock()
	if fetchFn != nil {
		return fetchFn(ctx, userID)
	}
	return f.storedProfile(userID), nil
}

func (f *fakeBackend) storedProfile(userID string) *model.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (f *fakeBackend) EnsureProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if existing, ok := f.profiles[p.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := &model.Profile{
		ID:          p.ID,
		Email:       p.Email,
		FullName:    p.FullName,
		Role:        p.Role,
		MemberSince: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.profiles[p.ID] = created
	cp := *created
	return &cp, nil
}

func (f *fakeBackend) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return model.NewProfileNotFoundError(userID)
	}
	update.ApplyTo(p)
	return nil
}

func (f *fakeBackend) counts() (signUp, fetch, ensure, update int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signUpCalls, f.fetchCalls, f.ensureCalls, f.updateCalls
}

// --- テスト用のNavigator / Notifier ---

type recordingNavigator struct {
	mu         sync.Mutex
	routes     []string
	onNavigate func(route string)
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	n.routes = append(n.routes, route)
	hook := n.onNavigate
	n.mu.Unlock()
	if hook != nil {
		hook(route)
	}
}

func (n *recordingNavigator) Routes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.routes)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.messages)
}

type testEnv struct {
	backend  *fakeBackend
	nav      *recordingNavigator
	notifier *recordingNotifier
	manager  *Manager
}

func newTestEnv(t *testing.T, fb *fakeBackend, cfg Config) *testEnv {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	env := &testEnv{
		backend:  fb,
		nav:      &recordingNavigator{},
		notifier: &recordingNotifier{},
	}
	env.manager = NewManager(fb, env.nav, env.notifier, cfg)
	t.Cleanup(env.manager.Close)
	return env
}

func startedEnv(t *testing.T, fb *fakeBackend) *testEnv {
	t.Helper()
	env := newTestEnv(t, fb, Config{})
	if err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return env
}

// --- Start ---

func TestStart_セッションなしは未認証で遷移しない(t *testing.T) {
	env := startedEnv(t, newFakeBackend())

	s := env.manager.State()
	if s.Status != StatusUnauthenticated {
		t.Errorf("Status = %v, want unauthenticated", s.Status)
	}
	if s.Loading() {
		t.Error("should not be loading after Start")
	}
	if len(env.nav.Routes()) != 0 {
		t.Errorf("no navigation expected, got %v", env.nav.Routes())
	}
}

func TestStart_既存セッションのプロフィールを読み込むが遷移しない(t *testing.T) {
	fb := newFakeBackend()
	user := fb.addAccount("v@example.com", "password1", "Vera", model.RoleVendor)
	fb.session = fakeSession(user)

	env := startedEnv(t, fb)

	s := env.manager.State()
	if s.Status != StatusAuthenticated {
		t.Fatalf("Status = %v, want authenticated", s.Status)
	}
	if !s.ProfileLoaded() {
		t.Fatal("profile should be loaded")
	}
	if s.Profile.Role != model.RoleVendor {
		t.Errorf("Role = %q, want vendor", s.Profile.Role)
	}
	if len(env.nav.Routes()) != 0 {
		t.Errorf("INITIAL_SESSION must not redirect, got %v", env.nav.Routes())
	}
}

func TestStart_セッション取得失敗は未認証として扱う(t *testing.T) {
	fb := newFakeBackend()
	fb.getSessionErr = errors.New("storage unavailable")

	env := startedEnv(t, fb)

	if got := env.manager.State().Status; got != StatusUnauthenticated {
		t.Errorf("Status = %v, want unauthenticated", got)
	}
}

func TestStart_二重呼び出しはエラー(t *testing.T) {
	env := startedEnv(t, newFakeBackend())

	if err := env.manager.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}
}

func TestManager_Start前の同期はErrNotStarted(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := newTestEnv(t, fb, Config{})

	err := env.manager.SignIn(context.Background(), "c@example.com", "password1")
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

// --- SignIn ---

func TestSignIn_ロールごとの遷移先(t *testing.T) {
	tests := []struct {
		name string
		role model.Role
		want string
	}{
		{name: "vendorはダッシュボード", role: model.RoleVendor, want: RouteVendorDashboard},
		{name: "customerはタブ", role: model.RoleCustomer, want: RouteMainTabs},
		{name: "deliveryはタブ", role: model.RoleDelivery, want: RouteMainTabs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend()
			fb.addAccount("u@example.com", "password1", "User", tt.role)
			env := startedEnv(t, fb)

			if err := env.manager.SignIn(context.Background(), "u@example.com", "password1"); err != nil {
				t.Fatalf("SignIn failed: %v", err)
			}

			if got := env.nav.Routes(); !slices.Equal(got, []string{tt.want}) {
				t.Errorf("routes = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestSignIn_遷移時点でプロフィールが読み込まれている(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("v@example.com", "password1", "Vera", model.RoleVendor)
	env := newTestEnv(t, fb, Config{})

	var loadedAtNavigation bool
	env.nav.onNavigate = func(string) {
		loadedAtNavigation = env.manager.State().ProfileLoaded()
	}
	if err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := env.manager.SignIn(context.Background(), "v@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if !loadedAtNavigation {
		t.Error("profile should be loaded before redirect")
	}
	s := env.manager.State()
	if s.User == nil || s.Profile == nil || s.User.ID != s.Profile.ID {
		t.Errorf("user and profile should match: %+v", s)
	}
}

func TestSignIn_認証情報の誤りはエラーを返し状態を変えない(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := startedEnv(t, fb)
	before := env.manager.State()

	err := env.manager.SignIn(context.Background(), "c@example.com", "wrong-password")

	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "Invalid login credentials" {
		t.Errorf("remote message should be propagated, got %q", apiErr.Message)
	}
	if after := env.manager.State(); after != before {
		t.Errorf("state changed: before=%+v after=%+v", before, after)
	}
	if len(env.nav.Routes()) != 0 {
		t.Errorf("no navigation expected, got %v", env.nav.Routes())
	}
}

func TestSignIn_プロフィール取得のタイムアウト後もメタデータのロールで遷移する(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("v@example.com", "password1", "Vera", model.RoleVendor)
	fb.fetchFn = func(ctx context.Context, userID string) (*model.Profile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	env := newTestEnv(t, fb, Config{FetchTimeout: 20 * time.Millisecond})
	if err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := env.manager.SignIn(context.Background(), "v@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	s := env.manager.State()
	if s.Status != StatusAuthenticated || s.Profile != nil {
		t.Errorf("expected authenticated without profile, got %+v", s)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteVendorDashboard}) {
		t.Errorf("routes = %v", got)
	}
}

// --- SignUp ---

func TestSignUp_プロフィールを作成してロール別に遷移する(t *testing.T) {
	fb := newFakeBackend()
	env := startedEnv(t, fb)

	err := env.manager.SignUp(context.Background(), "new@example.com", "password1", "Nina", model.RoleVendor)
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	s := env.manager.State()
	if !s.ProfileLoaded() {
		t.Fatal("profile should be loaded after sign up")
	}
	if s.Profile.Role != model.RoleVendor || s.Profile.FullName != "Nina" {
		t.Errorf("profile = %+v", s.Profile)
	}
	if s.Profile.TotalOrders != 0 || s.Profile.Points != 0 || s.Profile.Rating != 0 {
		t.Errorf("counters should start at zero: %+v", s.Profile)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteVendorDashboard}) {
		t.Errorf("routes = %v", got)
	}
}

func TestSignUp_サインアップで発行されたセッションを使い再サインインしない(t *testing.T) {
	fb := newFakeBackend()
	env := startedEnv(t, fb)

	if err := env.manager.SignUp(context.Background(), "new@example.com", "password1", "Nina", model.RoleCustomer); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	fb.mu.Lock()
	signIns := fb.signInCalls
	fb.mu.Unlock()
	if signIns != 0 {
		t.Errorf("SignInWithPassword calls = %d, want 0", signIns)
	}
	s := env.manager.State()
	if s.Status != StatusAuthenticated || s.User == nil || s.User.Email != "new@example.com" {
		t.Errorf("state = %+v", s)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteMainTabs}) {
		t.Errorf("routes = %v", got)
	}
}

func TestSignUp_ロールの大文字小文字を区別しない(t *testing.T) {
	fb := newFakeBackend()
	env := startedEnv(t, fb)

	if err := env.manager.SignUp(context.Background(), "new@example.com", "password1", "Nina", model.Role("Vendor")); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if got := env.manager.State().Role(); got != model.RoleVendor {
		t.Errorf("Role = %q, want vendor", got)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteVendorDashboard}) {
		t.Errorf("routes = %v", got)
	}
}

func TestSignUp_ロール省略はcustomer(t *testing.T) {
	fb := newFakeBackend()
	env := startedEnv(t, fb)

	if err := env.manager.SignUp(context.Background(), "new@example.com", "password1", "Nina", ""); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if got := env.manager.State().Role(); got != model.RoleCustomer {
		t.Errorf("Role = %q, want customer", got)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteMainTabs}) {
		t.Errorf("routes = %v", got)
	}
}

func TestSignUp_サーバー側で未作成のプロフィールを補完する(t *testing.T) {
	fb := newFakeBackend()
	fb.skipServerProfile = true
	env := startedEnv(t, fb)

	if err := env.manager.SignUp(context.Background(), "new@example.com", "password1", "Dan", model.RoleDelivery); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	_, _, ensure, _ := fb.counts()
	if ensure != 1 {
		t.Errorf("EnsureProfile calls = %d, want 1", ensure)
	}
	s := env.manager.State()
	if !s.ProfileLoaded() || s.Profile.Role != model.RoleDelivery {
		t.Errorf("profile should be loaded with delivery role: %+v", s.Profile)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteMainTabs}) {
		t.Errorf("routes = %v", got)
	}
}

func TestSignUp_登録済みのメールアドレスは状態を変えない(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("taken@example.com", "password1", "Tom", model.RoleCustomer)
	env := startedEnv(t, fb)
	before := env.manager.State()

	err := env.manager.SignUp(context.Background(), "taken@example.com", "password2", "Tim", model.RoleVendor)

	if !model.HasCode(err, model.ErrCodeUserAlreadyRegistered) {
		t.Fatalf("expected USER_ALREADY_REGISTERED, got %v", err)
	}
	if after := env.manager.State(); after != before {
		t.Errorf("state changed: before=%+v after=%+v", before, after)
	}
	if len(env.nav.Routes()) != 0 {
		t.Errorf("no navigation expected, got %v", env.nav.Routes())
	}
}

func TestSignUp_無効なロールはリモート呼び出しをしない(t *testing.T) {
	fb := newFakeBackend()
	env := startedEnv(t, fb)

	err := env.manager.SignUp(context.Background(), "new@example.com", "password1", "Nina", model.Role("admin"))

	if !model.HasCode(err, model.ErrCodeInvalidRole) {
		t.Fatalf("expected INVALID_ROLE, got %v", err)
	}
	if signUp, _, _, _ := fb.counts(); signUp != 0 {
		t.Errorf("SignUp calls = %d, want 0", signUp)
	}
}

func TestSignUp_メール確認が必要な場合はサインインせずに成功する(t *testing.T) {
	fb := newFakeBackend()
	fb.confirmRequired = true
	env := startedEnv(t, fb)

	if err := env.manager.SignUp(context.Background(), "new@example.com", "password1", "Nina", model.RoleCustomer); err != nil {
		t.Fatalf("SignUp should succeed, got %v", err)
	}

	if got := env.manager.State().Status; got != StatusUnauthenticated {
		t.Errorf("Status = %v, want unauthenticated", got)
	}
	if len(env.nav.Routes()) != 0 {
		t.Errorf("no navigation expected, got %v", env.nav.Routes())
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.signInCalls != 1 {
		t.Errorf("SignInWithPassword calls = %d, want 1", fb.signInCalls)
	}
}

// --- SignOut ---

func TestSignOut_状態を破棄してエントリー画面へ遷移する(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := startedEnv(t, fb)
	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	env.manager.SignOut(context.Background())

	s := env.manager.State()
	if s.Status != StatusUnauthenticated || s.Session != nil || s.User != nil || s.Profile != nil {
		t.Errorf("state should be cleared, got %+v", s)
	}
	want := []string{RouteMainTabs, RouteEntry}
	if got := env.nav.Routes(); !slices.Equal(got, want) {
		t.Errorf("routes = %v, want %v", got, want)
	}
	if len(env.notifier.Messages()) != 0 {
		t.Errorf("no notification expected, got %v", env.notifier.Messages())
	}
}

func TestSignOut_リモートの失敗は通知して状態は破棄する(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	fb.signOutErr = errors.New("connection reset")
	env := startedEnv(t, fb)
	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	env.manager.SignOut(context.Background())

	if got := env.notifier.Messages(); len(got) != 1 {
		t.Fatalf("expected one notification, got %v", got)
	}
	s := env.manager.State()
	if s.Session != nil || s.User != nil || s.Profile != nil {
		t.Errorf("state should be cleared, got %+v", s)
	}
}

func TestSignOut_連続したエントリー画面への遷移はまとめる(t *testing.T) {
	env := startedEnv(t, newFakeBackend())

	env.manager.SignOut(context.Background())
	env.manager.SignOut(context.Background())

	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteEntry}) {
		t.Errorf("routes = %v, want single %s", got, RouteEntry)
	}
}

// --- UpdateProfile / RefreshProfile ---

func TestUpdateProfile_ユーザーなしはNO_USERでリモート呼び出しをしない(t *testing.T) {
	fb := newFakeBackend()
	env := startedEnv(t, fb)

	name := "Nobody"
	err := env.manager.UpdateProfile(context.Background(), model.ProfileUpdate{FullName: &name})

	if !model.HasCode(err, model.ErrCodeNoUser) {
		t.Fatalf("expected NO_USER, got %v", err)
	}
	if _, _, _, update := fb.counts(); update != 0 {
		t.Errorf("UpdateProfile calls = %d, want 0", update)
	}
}

func TestUpdateProfile_更新後のプロフィールを反映する(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := startedEnv(t, fb)
	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	name := "Carl Jr."
	points := 120
	if err := env.manager.UpdateProfile(context.Background(), model.ProfileUpdate{FullName: &name, Points: &points}); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}

	p := env.manager.State().Profile
	if p == nil || p.FullName != "Carl Jr." || p.Points != 120 {
		t.Errorf("profile not refreshed: %+v", p)
	}
	if p.Role != model.RoleCustomer {
		t.Errorf("role should be unchanged, got %q", p.Role)
	}
}

func TestUpdateProfile_リモートエラーを返す(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	fb.updateErr = model.NewInvalidInputError("rating must be between 0 and 5")
	env := startedEnv(t, fb)
	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	rating := 9.0
	err := env.manager.UpdateProfile(context.Background(), model.ProfileUpdate{Rating: &rating})

	if !model.HasCode(err, model.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestRefreshProfile_連続した再取得は同じ値(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := startedEnv(t, fb)
	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	env.manager.RefreshProfile(context.Background())
	first := *env.manager.State().Profile
	env.manager.RefreshProfile(context.Background())
	second := *env.manager.State().Profile

	if first != second {
		t.Errorf("profiles differ: %+v vs %+v", first, second)
	}
}

func TestRefreshProfile_ユーザーなしは何もしない(t *testing.T) {
	fb := newFakeBackend()
	env := startedEnv(t, fb)

	env.manager.RefreshProfile(context.Background())

	if _, fetch, _, _ := fb.counts(); fetch != 0 {
		t.Errorf("FetchProfile calls = %d, want 0", fetch)
	}
}

// --- イベント処理 ---

func TestManager_TOKEN_REFRESHEDは遷移せずにプロフィールを再取得する(t *testing.T) {
	fb := newFakeBackend()
	user := fb.addAccount("v@example.com", "password1", "Vera", model.RoleVendor)
	env := startedEnv(t, fb)
	if err := env.manager.SignIn(context.Background(), "v@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	_, fetchBefore, _, _ := fb.counts()

	refreshed := fakeSession(user)
	refreshed.AccessToken = "at-rotated"
	fb.emit(model.AuthEventTokenRefreshed, refreshed)
	if err := env.manager.sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if got := env.manager.State().Session.AccessToken; got != "at-rotated" {
		t.Errorf("AccessToken = %q, want at-rotated", got)
	}
	if _, fetchAfter, _, _ := fb.counts(); fetchAfter != fetchBefore+1 {
		t.Errorf("FetchProfile calls = %d, want %d", fetchAfter, fetchBefore+1)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteVendorDashboard}) {
		t.Errorf("routes = %v", got)
	}
}

func TestManager_古いユーザーのプロフィール取得結果は破棄する(t *testing.T) {
	fb := newFakeBackend()
	userA := fb.addAccount("a@example.com", "password1", "Ann", model.RoleCustomer)
	userB := fb.addAccount("b@example.com", "password1", "Ben", model.RoleVendor)

	fetchStarted := make(chan struct{})
	release := make(chan struct{})
	fb.fetchFn = func(ctx context.Context, userID string) (*model.Profile, error) {
		if userID == userA.ID {
			close(fetchStarted)
			<-release
		}
		return fb.storedProfile(userID), nil
	}
	env := startedEnv(t, fb)

	fb.emit(model.AuthEventSignedIn, fakeSession(userA))
	<-fetchStarted
	fb.emit(model.AuthEventSignedIn, fakeSession(userB))
	close(release)

	if err := env.manager.sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	s := env.manager.State()
	if s.User == nil || s.User.ID != userB.ID {
		t.Fatalf("User = %+v, want %s", s.User, userB.ID)
	}
	if s.Profile == nil || s.Profile.ID != userB.ID {
		t.Errorf("Profile = %+v, want profile of %s", s.Profile, userB.ID)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteVendorDashboard}) {
		t.Errorf("stale sign-in must not redirect, routes = %v", got)
	}
}

func TestManager_ユーザー切り替えで実行中の取得をキャンセルする(t *testing.T) {
	fb := newFakeBackend()
	userA := fb.addAccount("a@example.com", "password1", "Ann", model.RoleCustomer)
	_ = fb.addAccount("b@example.com", "password1", "Ben", model.RoleVendor)

	fetchStarted := make(chan struct{})
	canceled := make(chan struct{})
	fb.fetchFn = func(ctx context.Context, userID string) (*model.Profile, error) {
		if userID == userA.ID {
			close(fetchStarted)
			<-ctx.Done()
			close(canceled)
			return nil, ctx.Err()
		}
		return fb.storedProfile(userID), nil
	}
	env := startedEnv(t, fb)

	fb.emit(model.AuthEventSignedIn, fakeSession(userA))
	<-fetchStarted
	fb.emit(model.AuthEventSignedOut, nil)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight fetch was not canceled")
	}
	if err := env.manager.sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	s := env.manager.State()
	if s.Status != StatusUnauthenticated || s.Profile != nil {
		t.Errorf("expected cleared state, got %+v", s)
	}
	if got := env.nav.Routes(); !slices.Equal(got, []string{RouteEntry}) {
		t.Errorf("routes = %v", got)
	}
}

// --- Subscribe / WaitFor ---

func TestSubscribe_状態の変化を通知し解除後は通知しない(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := startedEnv(t, fb)

	var mu sync.Mutex
	var seen []State
	unsubscribe := env.manager.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	unsubscribe()
	env.manager.SignOut(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("expected at least 2 updates, got %d", len(seen))
	}
	if seen[0].User == nil || seen[0].Profile != nil {
		t.Errorf("first update should set user before profile: %+v", seen[0])
	}
	last := seen[len(seen)-1]
	if !last.ProfileLoaded() {
		t.Errorf("last update should have profile loaded: %+v", last)
	}
}

func TestWaitFor_条件を満たすまで待つ(t *testing.T) {
	fb := newFakeBackend()
	fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := startedEnv(t, fb)

	result := make(chan State, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s, err := env.manager.WaitFor(ctx, State.ProfileLoaded)
		if err != nil {
			t.Errorf("WaitFor failed: %v", err)
		}
		result <- s
	}()

	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	s := <-result
	if !s.ProfileLoaded() {
		t.Errorf("WaitFor returned unsatisfied state: %+v", s)
	}
}

func TestWaitFor_コンテキスト終了でエラー(t *testing.T) {
	env := startedEnv(t, newFakeBackend())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.manager.WaitFor(ctx, State.ProfileLoaded)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

// --- Close ---

func TestClose_解除後のイベントは反映しない(t *testing.T) {
	fb := newFakeBackend()
	user := fb.addAccount("c@example.com", "password1", "Carl", model.RoleCustomer)
	env := startedEnv(t, fb)

	env.manager.Close()
	env.manager.Close()
	fb.emit(model.AuthEventSignedIn, fakeSession(user))

	if got := env.manager.State().Status; got != StatusUnauthenticated {
		t.Errorf("Status = %v, want unauthenticated", got)
	}
	if err := env.manager.SignIn(context.Background(), "c@example.com", "password1"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNewManager_nilのNavigatorとNotifierはログ出力を使う(t *testing.T) {
	m := NewManager(newFakeBackend(), nil, nil, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	if _, ok := m.navigator.(logNavigator); !ok {
		t.Errorf("navigator = %T, want logNavigator", m.navigator)
	}
	if _, ok := m.notifier.(logNotifier); !ok {
		t.Errorf("notifier = %T, want logNotifier", m.notifier)
	}
	if m.fetchTimeout != defaultFetchTimeout {
		t.Errorf("fetchTimeout = %v, want %v", m.fetchTimeout, defaultFetchTimeout)
	}
}

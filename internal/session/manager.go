package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mealdash/internal/model"
)

// defaultFetchTimeout はプロフィール取得のデフォルトタイムアウト。
const defaultFetchTimeout = 10 * time.Second

var (
	// ErrNotStarted はStart前に状態の同期が必要な操作を呼んだ場合のエラー。
	ErrNotStarted = errors.New("session manager is not started")
	// ErrClosed はClose後に操作を呼んだ場合のエラー。
	ErrClosed = errors.New("session manager is closed")
)

// Backend はSessionManagerが使用するリモートサービスのSDK。
// 呼び出しによって発生した認証イベントは、その呼び出しが戻る前にリスナーへ配信されなければならない。
type Backend interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn func(model.AuthStateChange)) (unsubscribe func())
	SignUp(ctx context.Context, email, password string, meta model.UserMetadata) (*model.User, *model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context) error
	FetchProfile(ctx context.Context, userID string) (*model.Profile, error)
	EnsureProfile(ctx context.Context, p *model.Profile) (*model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) error
}

// Config はManagerの設定。
type Config struct {
	Logger       *slog.Logger  // nilの場合はslog.Default()
	FetchTimeout time.Duration // 0以下の場合は10秒
}

type commandKind int

const (
	cmdEvent commandKind = iota
	cmdRefreshProfile
	cmdClearSession
	cmdBarrier
)

// command はイベント処理ゴルーチンへの指示。
type command struct {
	kind   commandKind
	change model.AuthStateChange
	epoch  uint64
	done   chan struct{} // 処理後にcloseする。nilの場合は待たない
}

// Manager は(Session, User, Profile)の組を保持し、認証操作と画面遷移を提供する。
//
// 状態の書き込みはすべて1つのゴルーチンで到着順に行う。
// 認証イベントを受けるとSession/Userを更新し、プロフィールの取得を待ってから
// SIGNED_INであればロール別の画面へ、SIGNED_OUTであればエントリー画面へ遷移する。
// ユーザーが切り替わると世代（epoch）を進め、古い世代のプロフィール取得結果は破棄する。
type Manager struct {
	backend      Backend
	navigator    Navigator
	notifier     Notifier
	logger       *slog.Logger
	fetchTimeout time.Duration

	mu             sync.RWMutex
	state          State
	observers      map[uint64]func(State)
	nextObserverID uint64

	queueMu      sync.Mutex
	queue        []command
	epoch        uint64
	queuedUserID string
	cancelFetch  context.CancelFunc
	wake         chan struct{}

	// lastRouteはイベント処理ゴルーチンのみが触る
	lastRoute string

	lifecycleMu sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	stop        context.CancelFunc
	done        chan struct{}
}

// NewManager はManagerを生成する。navigatorとnotifierがnilの場合はログ出力のみ行う。
func NewManager(backend Backend, navigator Navigator, notifier Notifier, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if navigator == nil {
		navigator = logNavigator{logger: logger}
	}
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	return &Manager{
		backend:      backend,
		navigator:    navigator,
		notifier:     notifier,
		logger:       logger,
		fetchTimeout: fetchTimeout,
		state:        State{Status: StatusInitializing},
		observers:    make(map[uint64]func(State)),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start は認証イベントを購読し、既存のセッションを読み込む。
// 既存セッションの反映（プロフィール取得を含む）が終わるまでブロックする。
// イベント処理はctxがキャンセルされるかCloseが呼ばれるまで続く。
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if m.closed {
		m.lifecycleMu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.lifecycleMu.Unlock()
		return errors.New("session manager is already started")
	}
	loopCtx, stop := context.WithCancel(ctx)
	m.started = true
	m.stop = stop
	m.unsubscribe = m.backend.OnAuthStateChange(m.onAuthStateChange)
	m.lifecycleMu.Unlock()

	go m.run(loopCtx)

	session, err := m.backend.GetSession(ctx)
	if err != nil {
		m.logger.Warn("failed to read existing session; starting unauthenticated",
			slog.String("error", err.Error()),
		)
		session = nil
	}
	m.enqueue(command{
		kind:   cmdEvent,
		change: model.AuthStateChange{Event: model.AuthEventInitialSession, Session: session},
	})

	return m.sync(ctx)
}

// Close はイベントの購読を解除し、イベント処理ゴルーチンを停止する。複数回呼んでもよい。
func (m *Manager) Close() {
	m.lifecycleMu.Lock()
	if m.closed {
		m.lifecycleMu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.stop != nil {
		m.stop()
	}
	m.lifecycleMu.Unlock()

	if started {
		<-m.done
	}
}

// State は現在の状態のスナップショットを返す。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe は状態が変化するたびにfnを呼ぶよう登録し、登録解除の関数を返す。
// fnはイベント処理ゴルーチンから呼ばれるため、ブロックしたりManagerの操作を呼んだりしてはならない。
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextObserverID
	m.nextObserverID++
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// WaitFor は状態がpredを満たすまで待ち、その時点の状態を返す。
// ctxが終了した場合は最後に観測した状態とctx.Err()を返す。
func (m *Manager) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := m.Subscribe(func(State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		s := m.State()
		if pred(s) {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// SignUp はアカウントを作成してサインイン状態にする。
// サーバーがセッションを返した場合はそれを使い、返さなかった場合は同じ認証情報でサインインを試みる。
// プロフィールはサーバー側でアカウントと同時に作成されるが、念のため冪等な作成も要求する。
// その失敗はログのみでサインアップ自体は成功とする。
// メールアドレスの確認が必要な設定ではサインインせずにnilを返す。
func (m *Manager) SignUp(ctx context.Context, email, password, fullName string, role model.Role) error {
	parsed, err := model.ParseRole(string(role))
	if err != nil {
		return model.NewInvalidRoleError(string(role))
	}
	role = parsed

	user, session, err := m.backend.SignUp(ctx, email, password, model.UserMetadata{FullName: fullName, Role: role})
	if err != nil {
		return remoteError("sign up", err)
	}
	if user == nil {
		return fmt.Errorf("failed to sign up: %w", model.NewInternalError())
	}
	m.logger.Info("account created",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
		slog.Bool("session_issued", session != nil),
	)

	if session != nil {
		// SIGNED_INはbackend.SignUpの中で発行済み
		if err := m.sync(ctx); err != nil {
			return err
		}
	} else if err := m.SignIn(ctx, email, password); err != nil {
		if model.HasCode(err, model.ErrCodeEmailNotConfirmed) {
			m.logger.Info("email confirmation required before sign in", slog.String("user_id", user.ID))
			return nil
		}
		return err
	}

	if _, err := m.backend.EnsureProfile(ctx, &model.Profile{
		ID:       user.ID,
		Email:    user.Email,
		FullName: fullName,
		Role:     role,
	}); err != nil {
		m.logger.Warn("failed to ensure profile after sign up",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if !m.State().ProfileLoaded() {
		m.RefreshProfile(ctx)
	}
	return nil
}

// SignIn はメールアドレスとパスワードでサインインする。
// SIGNED_INイベントの処理（プロフィール取得と画面遷移）が終わってから戻る。
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	if _, err := m.backend.SignInWithPassword(ctx, email, password); err != nil {
		return remoteError("sign in", err)
	}
	return m.sync(ctx)
}

// SignOut はサインアウトする。リモートの失敗はNotifierで通知し、ローカルの状態は必ず破棄する。
func (m *Manager) SignOut(ctx context.Context) {
	if err := m.backend.SignOut(ctx); err != nil {
		m.logger.Error("sign out failed", slog.String("error", err.Error()))
		m.notifier.Notify(fmt.Sprintf("Sign out failed: %s", err.Error()))
	}

	m.enqueue(command{kind: cmdClearSession})
	if err := m.sync(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
		m.logger.Warn("sign out did not settle", slog.String("error", err.Error()))
	}
}

// UpdateProfile は現在のユーザーのプロフィールを部分更新し、再取得する。
// サインインしていない場合はリモート呼び出しを行わずにNO_USERを返す。
func (m *Manager) UpdateProfile(ctx context.Context, update model.ProfileUpdate) error {
	user := m.State().User
	if user == nil {
		return model.NewNoUserError()
	}

	if err := m.backend.UpdateProfile(ctx, user.ID, update); err != nil {
		return remoteError("update profile", err)
	}
	return m.refreshProfile(ctx)
}

// RefreshProfile は現在のユーザーのプロフィールを再取得する。ユーザーがいない場合は何もしない。
func (m *Manager) RefreshProfile(ctx context.Context) {
	if err := m.refreshProfile(ctx); err != nil {
		m.logger.Warn("profile refresh did not complete", slog.String("error", err.Error()))
	}
}

func (m *Manager) refreshProfile(ctx context.Context) error {
	if m.State().User == nil {
		return nil
	}
	done := make(chan struct{})
	m.enqueue(command{kind: cmdRefreshProfile, done: done})
	return m.wait(ctx, done)
}

// onAuthStateChange はBackendから呼ばれる。キューに積むだけでブロックしない。
func (m *Manager) onAuthStateChange(change model.AuthStateChange) {
	m.enqueue(command{kind: cmdEvent, change: change})
}

// sync はそれまでにキューに積まれた処理がすべて終わるまで待つ。
func (m *Manager) sync(ctx context.Context) error {
	done := make(chan struct{})
	m.enqueue(command{kind: cmdBarrier, done: done})
	return m.wait(ctx, done)
}

func (m *Manager) wait(ctx context.Context, done chan struct{}) error {
	m.lifecycleMu.Lock()
	started, closed := m.started, m.closed
	m.lifecycleMu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue はコマンドをキューに積む。
// ユーザーが切り替わるコマンドでは世代を進め、実行中のプロフィール取得をキャンセルする。
func (m *Manager) enqueue(cmd command) {
	m.queueMu.Lock()
	if m.changesIdentity(cmd) {
		m.epoch++
		if m.cancelFetch != nil {
			m.cancelFetch()
			m.cancelFetch = nil
		}
	}
	cmd.epoch = m.epoch
	m.queue = append(m.queue, cmd)
	m.queueMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// changesIdentity はコマンドがユーザーの切り替えを伴うかを判定する。queueMuを保持して呼ぶ。
func (m *Manager) changesIdentity(cmd command) bool {
	var userID string
	switch cmd.kind {
	case cmdEvent:
		if s := cmd.change.Session; s != nil && s.User != nil {
			userID = s.User.ID
		}
	case cmdClearSession:
	default:
		return false
	}

	changed := userID != m.queuedUserID ||
		cmd.change.Event == model.AuthEventSignedIn ||
		cmd.change.Event == model.AuthEventSignedOut
	m.queuedUserID = userID
	return changed
}

func (m *Manager) isStale(epoch uint64) bool {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return epoch != m.epoch
}

// run はキューのコマンドを到着順に処理する。
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for {
		cmd, ok := m.next(ctx)
		if !ok {
			return
		}
		m.process(ctx, cmd)
		if cmd.done != nil {
			close(cmd.done)
		}
	}
}

func (m *Manager) next(ctx context.Context) (command, bool) {
	for {
		m.queueMu.Lock()
		if len(m.queue) > 0 {
			cmd := m.queue[0]
			m.queue[0] = command{}
			m.queue = m.queue[1:]
			m.queueMu.Unlock()
			return cmd, true
		}
		m.queueMu.Unlock()

		select {
		case <-m.wake:
		case <-ctx.Done():
			return command{}, false
		}
	}
}

func (m *Manager) process(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdEvent:
		m.handleEvent(ctx, cmd)
	case cmdRefreshProfile:
		if user := m.State().User; user != nil {
			m.loadProfile(ctx, cmd.epoch, user.ID)
		}
	case cmdClearSession:
		m.clear(cmd.epoch)
	case cmdBarrier:
	}
}

// handleEvent は認証イベントを反映する。
func (m *Manager) handleEvent(ctx context.Context, cmd command) {
	change := cmd.change
	var user *model.User
	if change.Session != nil {
		user = change.Session.User
	}

	m.logger.Debug("auth state changed",
		slog.String("event", string(change.Event)),
		slog.Bool("has_user", user != nil),
	)

	// 1. Session/Userを即座に更新する
	m.update(func(s *State) {
		s.Session = change.Session
		s.User = user
		if user == nil {
			s.Status = StatusUnauthenticated
			s.Profile = nil
			return
		}
		s.Status = StatusAuthenticated
		if s.Profile != nil && s.Profile.ID != user.ID {
			s.Profile = nil
		}
	})

	if user == nil {
		if change.Event == model.AuthEventSignedOut && !m.isStale(cmd.epoch) {
			m.navigate(RouteEntry)
		}
		return
	}

	// 2. プロフィールの取得を待つ
	m.loadProfile(ctx, cmd.epoch, user.ID)

	// 3. 新規サインインであればロール別の画面へ遷移する
	if change.Event == model.AuthEventSignedIn && !m.isStale(cmd.epoch) {
		m.navigate(RouteForRole(m.State().Role()))
	}
}

// clear はサインアウト後のローカル状態の破棄を保証する。
func (m *Manager) clear(epoch uint64) {
	m.update(func(s *State) {
		s.Status = StatusUnauthenticated
		s.Session = nil
		s.User = nil
		s.Profile = nil
	})
	if !m.isStale(epoch) {
		m.navigate(RouteEntry)
	}
}

// loadProfile はプロフィールを取得して反映する。
// 取得中に世代が進んだ場合は結果を破棄する。
func (m *Manager) loadProfile(ctx context.Context, epoch uint64, userID string) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	m.queueMu.Lock()
	if epoch != m.epoch {
		m.queueMu.Unlock()
		return
	}
	m.cancelFetch = cancel
	m.queueMu.Unlock()

	profile, err := m.backend.FetchProfile(fetchCtx, userID)

	m.queueMu.Lock()
	stale := epoch != m.epoch
	if !stale {
		m.cancelFetch = nil
	}
	m.queueMu.Unlock()

	if stale {
		m.logger.Debug("discarding stale profile fetch", slog.String("user_id", userID))
		return
	}
	if err != nil {
		m.logger.Warn("failed to fetch profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	m.update(func(s *State) {
		if s.User != nil && s.User.ID == userID {
			s.Profile = profile
		}
	})
}

// navigate は直前と同じ遷移先への連続した遷移を抑止する。
func (m *Manager) navigate(route string) {
	if route == m.lastRoute {
		return
	}
	m.lastRoute = route
	m.navigator.Navigate(route)
}

// update は状態を変更し、購読者に通知する。
func (m *Manager) update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	snapshot := m.state
	observers := make([]func(State), 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()

	for _, o := range observers {
		o(snapshot)
	}
}

// remoteError はリモートサービスのエラーをそのまま返し、それ以外はラップする。
func remoteError(op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

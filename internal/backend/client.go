// Package backend はmealdashアカウントサービスのクライアントSDKを提供する。
// セッションをプロセス内にキャッシュし、認証状態の変化を購読者に通知する。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/model"
)

const (
	// defaultTimeout はHTTPClient未指定時のリクエストタイムアウト。
	defaultTimeout = 15 * time.Second
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
)

// Config はClientの設定。
type Config struct {
	BaseURL    string       // 例: http://localhost:8080
	HTTPClient *http.Client // nilの場合はタイムアウト付きのクライアントを使用する
	Logger     *slog.Logger // nilの場合はslog.Default()
}

// Client はアカウントサービスのクライアント。
// 複数のゴルーチンから同時に使用できる。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	now        func() time.Time

	mu      sync.RWMutex
	session *model.Session

	// writeMu はセッションの書き込みとイベント発行を直列化する
	writeMu sync.Mutex
	events  *emitter

	// refreshMu はリフレッシュトークンの同時使用を防ぐ
	refreshMu sync.Mutex
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		now:        time.Now,
		events:     newEmitter(),
	}
}

// GetSession はキャッシュ済みのセッションを返す。サインインしていない場合はnil。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, nil
}

// OnAuthStateChange は認証状態変化のリスナーを登録し、登録解除の関数を返す。
// イベントは発生順に、発生させた呼び出しが戻る前に同期的に配信される。
// リスナーはブロックしてはならず、Clientのメソッドを呼び出してもならない。
func (c *Client) OnAuthStateChange(fn func(model.AuthStateChange)) (unsubscribe func()) {
	return c.events.subscribe(fn)
}

// setSession はセッションを置き換えてイベントを発行する。
func (c *Client) setSession(event model.AuthEvent, session *model.Session) {
	c.updateSession(event, func(*model.Session) (*model.Session, bool) {
		return session, true
	})
}

// updateSession は現在のセッションからnextを求めて置き換え、イベントを発行する。
// nextがfalseを返した場合は何もしない。
// 置き換えと発行は同じロックの中で行うため、イベントの順序はセッションの書き込み順と一致する。
func (c *Client) updateSession(event model.AuthEvent, next func(current *model.Session) (*model.Session, bool)) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	session, ok := next(c.session)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.session = session
	c.mu.Unlock()

	c.events.emit(model.AuthStateChange{Event: event, Session: session})
	return true
}

// accessToken は認証付きリクエストに使うアクセストークンを返す。
func (c *Client) accessToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", model.NewNoUserError()
	}
	return c.session.AccessToken, nil
}

// do はJSONリクエストを送信し、2xxの場合はレスポンスをoutにデコードする。
// エラーレスポンスは*model.APIErrorとして返す。
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mealdash-sdk/1.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request to account service failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError はエラーレスポンスを*model.APIErrorに変換する。
// 統一フォーマットでない場合はステータスコードから生成する。
func decodeError(statusCode int, data []byte) error {
	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		return body.ToModel()
	}
	if statusCode == http.StatusTooManyRequests {
		return model.NewRateLimitedError()
	}
	return &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  fmt.Sprintf("unexpected status %d", statusCode),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// sessionFromWire はレスポンスのセッションを変換する。
func sessionFromWire(s *api.Session) (*model.Session, error) {
	session, err := s.ToModel()
	if err != nil {
		return nil, err
	}
	if session == nil || session.AccessToken == "" {
		return nil, errors.New("response does not contain a session")
	}
	return session, nil
}

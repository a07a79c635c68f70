package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/model"
)

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
// 成功時はTOKEN_REFRESHEDを発行する。
// リフレッシュトークンが無効な場合はセッションを破棄してSIGNED_OUTを発行する。
func (c *Client) RefreshSession(ctx context.Context) (*model.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()
	if current == nil {
		return nil, model.NewNoUserError()
	}

	var resp api.Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "",
		api.RefreshGrantRequest{RefreshToken: current.RefreshToken}, &resp)
	if model.HasCode(err, model.ErrCodeInvalidRefreshToken) {
		c.logger.Warn("refresh token rejected; signing out")
		c.clearIfCurrent(current)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	session, err := sessionFromWire(&resp)
	if err != nil {
		return nil, err
	}

	// リフレッシュ中にサインアウトや再サインインがあった場合は上書きしない
	c.updateSession(model.AuthEventTokenRefreshed, func(s *model.Session) (*model.Session, bool) {
		return session, s == current
	})
	return session, nil
}

// clearIfCurrent はセッションがsのままであれば破棄してSIGNED_OUTを発行する。
func (c *Client) clearIfCurrent(s *model.Session) {
	c.updateSession(model.AuthEventSignedOut, func(current *model.Session) (*model.Session, bool) {
		return nil, current == s
	})
}

// StartAutoRefresh はinterval毎にセッションの有効期限を確認し、
// 残りがmargin以下になったらリフレッシュするゴルーチンを開始する。ctxのキャンセルで停止する。
func (c *Client) StartAutoRefresh(ctx context.Context, interval, margin time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.refreshIfNeeded(ctx, margin); err != nil && ctx.Err() == nil {
					c.logger.Warn("auto refresh failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// refreshIfNeeded は期限が近ければリフレッシュする。
// 通信エラー、サーバー内部エラー、レート制限は指数バックオフで再試行し、それ以外のAPIErrorは再試行しない。
func (c *Client) refreshIfNeeded(ctx context.Context, margin time.Duration) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil || !current.Expired(c.now().Add(margin)) {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = time.Minute

	return backoff.Retry(func() error {
		_, err := c.RefreshSession(ctx)
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func isPermanent(err error) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case model.ErrCodeInternal, model.ErrCodeRateLimited:
		return false
	default:
		return true
	}
}

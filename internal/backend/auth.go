package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/model"
)

// SignUp はアカウントを作成する。
// サーバーがセッションを返した場合はキャッシュしてSIGNED_INを発行する。
// メール確認が必要な設定ではセッションはnilで、イベントも発行しない。
func (c *Client) SignUp(ctx context.Context, email, password string, meta model.UserMetadata) (*model.User, *model.Session, error) {
	req := api.SignUpRequest{
		Email:    email,
		Password: password,
		Data: api.UserMetadata{
			FullName: meta.FullName,
			Role:     string(meta.Role),
		},
	}

	var resp api.SignUpResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", req, &resp); err != nil {
		return nil, nil, err
	}

	user, err := resp.User.ToModel()
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, fmt.Errorf("signup response does not contain a user")
	}

	if resp.Session == nil {
		return user, nil, nil
	}
	session, err := sessionFromWire(resp.Session)
	if err != nil {
		return nil, nil, err
	}
	c.setSession(model.AuthEventSignedIn, session)
	return user, session, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインし、セッションをキャッシュする。
// 成功時はSIGNED_INを発行する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var resp api.Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "",
		api.PasswordGrantRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}

	session, err := sessionFromWire(&resp)
	if err != nil {
		return nil, err
	}

	c.setSession(model.AuthEventSignedIn, session)
	return session, nil
}

// SignOut はサーバー側のリフレッシュトークンを失効させる。
// サーバー呼び出しの成否にかかわらずローカルのセッションを破棄し、SIGNED_OUTを発行する。
func (c *Client) SignOut(ctx context.Context) error {
	var err error
	if token, tokenErr := c.accessToken(); tokenErr == nil {
		err = c.do(ctx, http.MethodPost, "/auth/v1/logout", token, nil, nil)
		if err != nil {
			c.logger.Warn("server-side sign out failed; clearing local session",
				slog.String("error", err.Error()),
			)
		}
	}

	c.setSession(model.AuthEventSignedOut, nil)
	return err
}

// GetUser はサーバーから現在のユーザー情報を取得し、キャッシュ済みセッションのユーザーを更新する。
// 更新時はUSER_UPDATEDを発行する。
func (c *Client) GetUser(ctx context.Context) (*model.User, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	var resp api.User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", token, nil, &resp); err != nil {
		return nil, err
	}
	user, err := resp.ToModel()
	if err != nil {
		return nil, err
	}

	// 取得中にサインアウトや再サインインがあった場合は上書きしない
	c.updateSession(model.AuthEventUserUpdated, func(current *model.Session) (*model.Session, bool) {
		if current == nil || current.AccessToken != token {
			return nil, false
		}
		updated := *current
		updated.User = user
		return &updated, true
	})
	return user, nil
}

// VerifyEmail は確認トークンでメールアドレスを確認する。セッションは変更しない。
func (c *Client) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	var resp api.User
	if err := c.do(ctx, http.MethodPost, "/auth/v1/verify", "", api.VerifyRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	return resp.ToModel()
}

package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/model"
)

const profilesPath = "/rest/v1/profiles"

// FetchProfile は指定ユーザーのプロフィールを取得する。
// まだ作成されていない場合はnil, nilを返す。
func (c *Client) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	var resp api.Profile
	err = c.do(ctx, http.MethodGet, profilesPath+"/"+url.PathEscape(userID), token, nil, &resp)
	if model.HasCode(err, model.ErrCodeProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.ToModel()
}

// EnsureProfile はプロフィールが存在しなければ作成し、保存済みの行を返す。
// 既に存在する場合はサーバー上の行を変更しない。
func (c *Client) EnsureProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	var resp api.Profile
	if err := c.do(ctx, http.MethodPost, profilesPath, token, api.FromProfile(p), &resp); err != nil {
		return nil, err
	}
	return resp.ToModel()
}

// UpdateProfile はプロフィールを部分更新する。nilのフィールドは送信しない。
func (c *Client) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) error {
	token, err := c.accessToken()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, profilesPath+"/"+url.PathEscape(userID), token,
		api.FromProfileUpdate(update), nil)
}

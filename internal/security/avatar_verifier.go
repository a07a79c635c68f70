package security

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// AvatarVerifier はアバターURLが実際に画像を返すかを確認する。
type AvatarVerifier interface {
	Verify(ctx context.Context, rawURL string) error
}

// httpAvatarVerifier はHEADリクエストでContent-Typeを確認するAvatarVerifier。
type httpAvatarVerifier struct {
	client *http.Client
}

// NewAvatarVerifier はsafeurlクライアントを使うAvatarVerifierを生成する。
// プライベートIP、ループバック、メタデータIPへの接続はDNS解決後にブロックされる。
func NewAvatarVerifier(timeout time.Duration) AvatarVerifier {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &httpAvatarVerifier{client: safeurl.Client(config).Client}
}

// Verify はURLが2xxかつimage/*のContent-Typeを返すことを確認する。
func (v *httpAvatarVerifier) Verify(ctx context.Context, rawURL string) error {
	if err := ValidateURL(rawURL); err != nil {
		return err
	}
	return v.checkImage(ctx, rawURL)
}

// checkImage はHEADリクエストを送り、レスポンスが画像かどうかを確認する。
func (v *httpAvatarVerifier) checkImage(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "mealdash-avatar-check/1.0")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach avatar URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("avatar URL returned status %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("avatar URL is not an image: %q", resp.Header.Get("Content-Type"))
	}
	return nil
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/auth"
	"github.com/hitoshi/mealdash/internal/middleware"
	"github.com/hitoshi/mealdash/internal/model"
)

const (
	grantTypePassword     = "password"
	grantTypeRefreshToken = "refresh_token"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*model.User, *model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Session, error)
	SignOut(ctx context.Context, userID string) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
	VerifyEmail(ctx context.Context, token string) (*model.User, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
		now:     time.Now,
	}
}

// SignUp はアカウントを作成する。
// POST /auth/v1/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req api.SignUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, session, err := h.service.SignUp(r.Context(), auth.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.Data.FullName,
		Role:     req.Data.Role,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.SignUpResponse{
		User:    api.FromUser(user),
		Session: api.FromSession(session, h.now()),
	})
}

// Token はgrant_typeに応じてパスワード認証またはリフレッシュを行い、セッションを返す。
// POST /auth/v1/token?grant_type=password|refresh_token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var (
		session *model.Session
		err     error
	)

	switch r.URL.Query().Get("grant_type") {
	case grantTypePassword:
		var req api.PasswordGrantRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		session, err = h.service.SignInWithPassword(r.Context(), req.Email, req.Password)
	case grantTypeRefreshToken:
		var req api.RefreshGrantRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		session, err = h.service.Refresh(r.Context(), req.RefreshToken)
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidInputError("Unsupported grant_type"))
		return
	}

	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.FromSession(session, h.now()))
}

// Logout はユーザーのリフレッシュトークンをすべて失効させる。
// POST /auth/v1/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.SignOut(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// User は認証済みユーザーの情報を返す。
// GET /auth/v1/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.FromUser(user))
}

// Verify は確認トークンでメールアドレスを確認済みにする。
// POST /auth/v1/verify はボディ、GET /auth/v1/verify?token= は確認メールのリンクから呼ばれる。
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost {
		var req api.VerifyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token = req.Token
	}

	user, err := h.service.VerifyEmail(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.FromUser(user))
}

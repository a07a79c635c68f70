package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mealdash/internal/api"
	"github.com/hitoshi/mealdash/internal/middleware"
	"github.com/hitoshi/mealdash/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, callerID, id string) (*model.Profile, error)
	Ensure(ctx context.Context, callerID string, in *model.Profile) (*model.Profile, error)
	Update(ctx context.Context, callerID, id string, update model.ProfileUpdate) error
}

// ProfileHandler はprofilesテーブルのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// GetProfile はプロフィールを取得する。
// GET /rest/v1/profiles/{id}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.FromProfile(profile))
}

// EnsureProfile はプロフィールが存在しなければ作成し、保存済みの行を返す。
// POST /rest/v1/profiles
func (h *ProfileHandler) EnsureProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req api.Profile
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.ToModel()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	profile, err := h.service.Ensure(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, api.FromProfile(profile))
}

// UpdateProfile はプロフィールを部分更新する。
// PATCH /rest/v1/profiles/{id}
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req api.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), req.ToModel()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

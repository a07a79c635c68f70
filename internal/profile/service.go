// Package profile はプロフィールの取得、作成、部分更新を提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mealdash/internal/metrics"
	"github.com/hitoshi/mealdash/internal/model"
	"github.com/hitoshi/mealdash/internal/repository"
	"github.com/hitoshi/mealdash/internal/security"
)

const (
	maxFullNameLength = 120
	maxPhoneLength    = 32
	maxRating         = 5.0
)

// Service はプロフィールに関するビジネスロジックを提供する。
// 呼び出し元は自分自身のプロフィールのみ操作できる。
type Service struct {
	profileRepo repository.ProfileRepository
	userRepo    repository.UserRepository
	sanitizer   security.TextSanitizer
	verifier    security.AvatarVerifier // nilの場合は到達確認を行わない
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	userRepo repository.UserRepository,
	sanitizer security.TextSanitizer,
	verifier security.AvatarVerifier,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		profileRepo: profileRepo,
		userRepo:    userRepo,
		sanitizer:   sanitizer,
		verifier:    verifier,
		metrics:     collector,
		now:         time.Now,
	}
}

// Get は指定IDのプロフィールを取得する。
func (s *Service) Get(ctx context.Context, callerID, id string) (p *model.Profile, err error) {
	defer func() { s.metrics.RecordProfileOperation("get", metrics.Outcome(err)) }()

	if callerID != id {
		return nil, model.NewForbiddenError()
	}

	p, err = s.profileRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError(id)
	}
	return p, nil
}

// Ensure はプロフィールが存在しなければ作成し、保存済みの行を返す。
// 既に存在する場合は既存の行をそのまま返す。
// email、roleはサインアップ時に登録された値が正となり、カウンタは0で作成される。
func (s *Service) Ensure(ctx context.Context, callerID string, in *model.Profile) (p *model.Profile, err error) {
	defer func() { s.metrics.RecordProfileOperation("ensure", metrics.Outcome(err)) }()

	if in == nil {
		in = &model.Profile{}
	}
	if in.ID == "" {
		in.ID = callerID
	}
	if in.ID != callerID {
		return nil, model.NewForbiddenError()
	}

	user, err := s.userRepo.FindByID(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.Role != "" && in.Role != user.Metadata.Role {
		return nil, model.NewInvalidRoleError(string(in.Role))
	}

	candidate := model.NewProfile(user, s.now())
	if name := s.sanitizer.Sanitize(in.FullName); name != "" {
		candidate.FullName = name
	}
	candidate.Phone = s.sanitizer.Sanitize(in.Phone)
	if err := validateText(candidate.FullName, candidate.Phone); err != nil {
		return nil, err
	}
	if in.AvatarURL != "" {
		if err := s.checkAvatar(ctx, in.AvatarURL); err != nil {
			return nil, err
		}
		candidate.AvatarURL = in.AvatarURL
	}

	p, err = s.profileRepo.InsertIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return p, nil
}

// Update はプロフィールを部分更新する。nilのフィールドは変更しない。
// 同時更新は後勝ちとなる。
func (s *Service) Update(ctx context.Context, callerID, id string, update model.ProfileUpdate) (err error) {
	defer func() { s.metrics.RecordProfileOperation("update", metrics.Outcome(err)) }()

	if callerID != id {
		return model.NewForbiddenError()
	}
	if update.IsEmpty() {
		return model.NewInvalidInputError("No fields to update")
	}

	if update.FullName != nil {
		v := s.sanitizer.Sanitize(*update.FullName)
		update.FullName = &v
	}
	if update.Phone != nil {
		v := s.sanitizer.Sanitize(*update.Phone)
		update.Phone = &v
	}
	if err := validateUpdate(update); err != nil {
		return err
	}
	if update.AvatarURL != nil && *update.AvatarURL != "" {
		if err := s.checkAvatar(ctx, *update.AvatarURL); err != nil {
			return err
		}
	}

	found, err := s.profileRepo.Update(ctx, id, update, s.now())
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if !found {
		return model.NewProfileNotFoundError(id)
	}

	slog.Info("profile updated", slog.String("user_id", id))
	return nil
}

// checkAvatar はアバターURLを静的に検証し、設定されていれば到達確認も行う。
func (s *Service) checkAvatar(ctx context.Context, rawURL string) error {
	if err := security.ValidateURL(rawURL); err != nil {
		return model.NewInvalidAvatarURLError(err.Error())
	}
	if s.verifier != nil {
		if err := s.verifier.Verify(ctx, rawURL); err != nil {
			slog.Warn("avatar verification failed",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			return model.NewInvalidAvatarURLError(err.Error())
		}
	}
	return nil
}

func validateUpdate(u model.ProfileUpdate) error {
	var fullName, phone string
	if u.FullName != nil {
		fullName = *u.FullName
	}
	if u.Phone != nil {
		phone = *u.Phone
	}
	if err := validateText(fullName, phone); err != nil {
		return err
	}
	if u.TotalOrders != nil && *u.TotalOrders < 0 {
		return model.NewInvalidInputError("total_orders must not be negative")
	}
	if u.Points != nil && *u.Points < 0 {
		return model.NewInvalidInputError("points must not be negative")
	}
	if u.Rating != nil && (*u.Rating < 0 || *u.Rating > maxRating) {
		return model.NewInvalidInputError("rating must be between 0 and 5")
	}
	return nil
}

func validateText(fullName, phone string) error {
	if len([]rune(fullName)) > maxFullNameLength {
		return model.NewInvalidInputError("full_name should be at most 120 characters")
	}
	if len([]rune(phone)) > maxPhoneLength {
		return model.NewInvalidInputError("phone should be at most 32 characters")
	}
	return nil
}

// Package auth はパスワード認証、トークン発行、メール確認を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hitoshi/mealdash/internal/metrics"
	"github.com/hitoshi/mealdash/internal/model"
	"github.com/hitoshi/mealdash/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AutoConfirm     bool   // trueの場合、サインアップ時にメール確認を省略する
	BaseURL         string // 確認リンクの生成に使用する
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	tokenRepo repository.RefreshTokenRepository
	mailer    Mailer
	metrics   metrics.MetricsCollector
	issuer    *TokenIssuer
	validate  *validator.Validate
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
// mailerがnilの場合はLogMailer、collectorがnilの場合はNopCollectorを使用する。
func NewService(
	userRepo repository.UserRepository,
	tokenRepo repository.RefreshTokenRepository,
	mailer Mailer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		mailer:    mailer,
		metrics:   collector,
		issuer:    NewTokenIssuer(config.JWTSecret, config.AccessTokenTTL),
		validate:  newValidator(),
		config:    config,
		now:       time.Now,
	}
}

// SignUp はアカウントとプロフィールを作成する。
// メール確認が不要な設定ではセッションも発行し、必要な設定では確認メールを送りセッションはnilを返す。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (user *model.User, session *model.Session, err error) {
	defer func() { s.metrics.RecordAuth("signup", metrics.Outcome(err)) }()

	in.Email = normalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := s.validate.Struct(in); err != nil {
		return nil, nil, validationError(err)
	}

	role, err := model.ParseRole(in.Role)
	if err != nil {
		return nil, nil, model.NewInvalidRoleError(in.Role)
	}

	existing, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewUserAlreadyRegisteredError()
	}

	passwordHash, err := hashPassword(in.Password)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	user = &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		PasswordHash: passwordHash,
		Metadata:     model.UserMetadata{FullName: in.FullName, Role: role},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.config.AutoConfirm {
		user.EmailConfirmedAt = &now
	} else {
		token, err := generateOpaqueToken()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate confirmation token: %w", err)
		}
		user.ConfirmationToken = token
	}

	// プロフィールはユーザーと同一トランザクションで作成する
	if err := s.userRepo.CreateWithProfile(ctx, user, model.NewProfile(user, now)); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, nil, model.NewUserAlreadyRegisteredError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
		slog.Bool("confirmed", user.EmailConfirmed()),
	)

	if !s.config.AutoConfirm {
		// 送信失敗でもアカウントは作成済みのため、エラーはログのみ
		if err := s.mailer.SendConfirmation(ctx, user.Email, s.confirmURL(user.ConfirmationToken)); err != nil {
			slog.Error("failed to send confirmation mail",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return user, nil, nil
	}

	session, err = s.issueSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// SignInWithPassword はメールアドレスとパスワードで認証し、セッションを発行する。
// メールアドレスの存在有無は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (session *model.Session, err error) {
	defer func() { s.metrics.RecordAuth("signin", metrics.Outcome(err)) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !checkPassword(user.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}
	if !user.EmailConfirmed() {
		return nil, model.NewEmailNotConfirmedError()
	}

	session, err = s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return session, nil
}

// Refresh はリフレッシュトークンを検証し、新しいセッションを発行する。
// 使用済みのリフレッシュトークンは削除され、再利用できない。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (session *model.Session, err error) {
	defer func() { s.metrics.RecordAuth("refresh", metrics.Outcome(err)) }()

	if refreshToken == "" {
		return nil, model.NewInvalidRefreshTokenError()
	}

	stored, err := s.tokenRepo.FindByHash(ctx, hashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	if stored == nil {
		return nil, model.NewInvalidRefreshTokenError()
	}

	// 削除できた呼び出しだけが新しいセッションを受け取る
	deleted, err := s.tokenRepo.DeleteByID(ctx, stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !deleted {
		return nil, model.NewInvalidRefreshTokenError()
	}

	user, err := s.userRepo.FindByID(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidRefreshTokenError()
	}

	return s.issueSession(ctx, user)
}

// SignOut はユーザーの全リフレッシュトークンを失効させる。
// 発行済みのアクセストークンは有効期限まで検証を通る。
func (s *Service) SignOut(ctx context.Context, userID string) (err error) {
	defer func() { s.metrics.RecordAuth("signout", metrics.Outcome(err)) }()

	if userID == "" {
		return model.NewUnauthorizedError()
	}

	if err := s.tokenRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	slog.Info("user signed out", slog.String("user_id", userID))
	return nil
}

// GetUser は指定IDのユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// VerifyEmail は確認トークンでメールアドレスを確認済みにする。
func (s *Service) VerifyEmail(ctx context.Context, token string) (user *model.User, err error) {
	defer func() { s.metrics.RecordAuth("verify", metrics.Outcome(err)) }()

	if token == "" {
		return nil, model.NewInvalidConfirmationTokenError()
	}

	user, err = s.userRepo.ConfirmByToken(ctx, token, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to confirm email: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidConfirmationTokenError()
	}

	slog.Info("email confirmed", slog.String("user_id", user.ID))
	return user, nil
}

// VerifyAccessToken はアクセストークンを検証し、ユーザーIDを返す。
func (s *Service) VerifyAccessToken(token string) (string, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return "", model.NewUnauthorizedError()
	}
	return claims.Subject, nil
}

// issueSession はアクセストークンとリフレッシュトークンを発行する。
func (s *Service) issueSession(ctx context.Context, user *model.User) (*model.Session, error) {
	accessToken, expiresAt, err := s.issuer.Issue(user.ID, user.Email, string(user.Metadata.Role))
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := s.now()
	if err := s.tokenRepo.Create(ctx, &model.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: now.Add(s.config.RefreshTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	return &model.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func (s *Service) confirmURL(token string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + "/auth/v1/verify?token=" + url.QueryEscape(token)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

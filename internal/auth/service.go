// Package auth はパスワードログイン、トークンのローテーション、ログアウト、
// メールプロバイダーとのOAuth連携クライアントを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/repository"
	"github.com/hitoshi/leadflow/internal/token"
)

// TokenIssuer は認証サービスが必要とするトークン操作。token.Serviceが実装する。
type TokenIssuer interface {
	Issue(ctx context.Context, user *model.User, kind model.TokenKind) (string, error)
	ValidateKind(ctx context.Context, raw string, kind model.TokenKind) (*token.Claims, error)
	Revoke(ctx context.Context, accessToken, refreshToken string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

// TokenPair はログイン・リフレッシュで発行されるトークンの組。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	tokens   TokenIssuer
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokens TokenIssuer) *Service {
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
	}
}

// Login はメールアドレスとパスワードを検証し、トークンの組を発行する。
// トークンを保存できなかった場合はログイン自体を失敗させる。
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Info("login rejected", slog.String("user_id", user.ID), slog.String("reason", "password_mismatch"))
		return nil, model.NewInvalidCredentialsError()
	}
	if !user.Active {
		return nil, model.NewAccountDisabledError()
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return pair, nil
}

// Refresh はリフレッシュトークンをローテーションする。
// 提示されたリフレッシュトークンは失効させ、新しい組を発行する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateKind(ctx, refreshToken, model.TokenKindRefresh)
	if err != nil {
		if errors.Is(err, token.ErrTokenInvalid) || errors.Is(err, token.ErrTokenExpired) {
			return nil, model.NewSessionExpiredError()
		}
		return nil, fmt.Errorf("failed to validate refresh token: %w", err)
	}

	user, err := s.activeUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Revoke(ctx, "", refreshToken); err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("refresh token rotated", slog.String("user_id", user.ID))
	return pair, nil
}

// Logout はトークンを失効させる。
// 認証済みユーザーの場合はそのユーザーの全トークン、それ以外は提示されたトークンのみを失効させる。
func (s *Service) Logout(ctx context.Context, userID, accessToken, refreshToken string) error {
	if userID != "" {
		if _, err := s.tokens.RevokeAll(ctx, userID); err != nil {
			return err
		}
		slog.Info("user logged out", slog.String("user_id", userID))
		return nil
	}
	return s.tokens.Revoke(ctx, accessToken, refreshToken)
}

// CurrentUser はユーザー情報を取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) activeUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, model.NewAccountDisabledError()
	}
	return user, nil
}

func (s *Service) issuePair(ctx context.Context, user *model.User) (*TokenPair, error) {
	access, err := s.tokens.Issue(ctx, user, model.TokenKindAccess)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := s.tokens.Issue(ctx, user, model.TokenKindRefresh)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    s.tokens.AccessTTL(),
		RefreshTTL:   s.tokens.RefreshTTL(),
	}, nil
}

// Package oauthtoken は外部メールプロバイダーのOAuthトークンの保管と期限前リフレッシュを提供する。
package oauthtoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/leadflow/internal/metrics"
	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/repository"
)

// DefaultRefreshThreshold は有効期限のこの時間前からリフレッシュを行う。
const DefaultRefreshThreshold = 10 * time.Minute

// refreshTimeout は共有リフレッシュ1回あたりの上限時間。
const refreshTimeout = 30 * time.Second

var (
	// ErrTokenNotFound は連携済みトークンが存在しないことを表す。
	ErrTokenNotFound = errors.New("oauth token not found")
	// ErrTokenRevoked は連携が解除されたトークンを表す。
	ErrTokenRevoked = errors.New("oauth token revoked")
	// ErrRefreshFailed はプロバイダーでのリフレッシュ失敗を表す。
	// 保存済みトークンは期限切れに更新され、古いトークンは返さない。
	ErrRefreshFailed = errors.New("oauth token refresh failed")
)

// TokenRefresher はプロバイダーのトークンエンドポイントでリフレッシュトークンを交換する。
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*model.OAuthGrant, error)
}

// Config はManagerの設定。
type Config struct {
	RefreshThreshold time.Duration
	// Now はテスト用の時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Manager はOAuthトークンの取得とリフレッシュを行う。
// 同一プロセス内の同じ (user, provider, email) への同時リフレッシュは1回にまとめる。
type Manager struct {
	repo       repository.OAuthTokenRepository
	refreshers map[string]TokenRefresher
	metrics    metrics.MetricsCollector
	threshold  time.Duration
	now        func() time.Time
	group      singleflight.Group
}

// NewManager はManagerを生成する。refreshersはプロバイダー名をキーとする。
func NewManager(
	repo repository.OAuthTokenRepository,
	refreshers map[string]TokenRefresher,
	collector metrics.MetricsCollector,
	cfg Config,
) *Manager {
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Manager{
		repo:       repo,
		refreshers: refreshers,
		metrics:    collector,
		threshold:  cfg.RefreshThreshold,
		now:        cfg.Now,
	}
}

// GetValidToken は有効なアクセストークンを返す。
// 有効期限がしきい値以内の場合は、返す前にプロバイダーで同期的にリフレッシュする。
func (m *Manager) GetValidToken(ctx context.Context, userID, provider, email string) (*model.OAuthToken, error) {
	token, err := m.repo.Find(ctx, userID, provider, email)
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth token: %w", err)
	}
	if token == nil {
		return nil, ErrTokenNotFound
	}
	if token.Revoked {
		return nil, ErrTokenRevoked
	}
	if !token.Expired && !token.ExpiresWithin(m.now(), m.threshold) {
		return token, nil
	}

	key := userID + "|" + provider + "|" + email
	v, err, _ := m.group.Do(key, func() (any, error) {
		// 最初の呼び出し元がキャンセルされても、共有中のリフレッシュは継続する
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(shared, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.OAuthToken), nil
}

func (m *Manager) refresh(ctx context.Context, token *model.OAuthToken) (*model.OAuthToken, error) {
	refresher, ok := m.refreshers[token.Provider]
	if !ok {
		return nil, m.fail(ctx, token, fmt.Errorf("unsupported provider %q", token.Provider))
	}
	if token.RefreshToken == "" {
		return nil, m.fail(ctx, token, errors.New("no refresh token stored"))
	}

	start := time.Now()
	grant, err := refresher.RefreshToken(ctx, token.RefreshToken)
	m.metrics.RecordOAuthRefresh(token.Provider, err == nil, time.Since(start))
	if err != nil {
		return nil, m.fail(ctx, token, err)
	}

	updated := *token
	updated.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		// ローテーションされた場合は新しいリフレッシュトークンで置き換える
		updated.RefreshToken = grant.RefreshToken
	}
	if grant.Scope != "" {
		updated.Scope = grant.Scope
	}
	updated.ExpiresAt = grant.ExpiresAt
	updated.Expired = false
	updated.UpdatedAt = m.now()

	if err := m.repo.UpdateTokens(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to store refreshed oauth token: %w", err)
	}

	slog.Info("oauth token refreshed",
		slog.String("user_id", token.UserID),
		slog.String("provider", token.Provider),
		slog.String("email", token.Email),
	)
	return &updated, nil
}

// fail は保存済みトークンを期限切れにしてErrRefreshFailedを返す。
func (m *Manager) fail(ctx context.Context, token *model.OAuthToken, cause error) error {
	if err := m.repo.MarkExpired(ctx, token.ID); err != nil {
		slog.Error("failed to mark oauth token expired",
			slog.String("oauth_token_id", token.ID),
			slog.String("error", err.Error()),
		)
	}
	slog.Warn("oauth token refresh failed",
		slog.String("user_id", token.UserID),
		slog.String("provider", token.Provider),
		slog.String("email", token.Email),
		slog.String("error", cause.Error()),
	)
	return fmt.Errorf("%w: %s (%s): %w", ErrRefreshFailed, token.Email, token.Provider, cause)
}

// Connect は連携・コールバック時にトークンを保存する。既存の連携は上書きする。
func (m *Manager) Connect(ctx context.Context, userID, provider, email string, grant *model.OAuthGrant) (*model.OAuthToken, error) {
	if grant == nil || grant.AccessToken == "" {
		return nil, fmt.Errorf("oauth grant has no access token")
	}

	now := m.now()
	token := &model.OAuthToken{
		ID:           uuid.NewString(),
		UserID:       userID,
		Provider:     provider,
		Email:        email,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
		ExpiresAt:    grant.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.Upsert(ctx, token); err != nil {
		return nil, fmt.Errorf("メール連携の保存に失敗しました: %w", err)
	}

	slog.Info("oauth account connected",
		slog.String("user_id", userID),
		slog.String("provider", provider),
		slog.String("email", email),
	)
	return token, nil
}

// Disconnect は連携を解除する（revoked=true）。連携が存在しない場合はErrTokenNotFound。
func (m *Manager) Disconnect(ctx context.Context, userID, provider, email string) error {
	found, err := m.repo.Revoke(ctx, userID, provider, email)
	if err != nil {
		return fmt.Errorf("メール連携の解除に失敗しました: %w", err)
	}
	if !found {
		return ErrTokenNotFound
	}
	return nil
}

// ListConnections はユーザーの連携済みトークン一覧を返す。
func (m *Manager) ListConnections(ctx context.Context, userID string) ([]*model.OAuthToken, error) {
	tokens, err := m.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("メール連携一覧の取得に失敗しました: %w", err)
	}
	return tokens, nil
}

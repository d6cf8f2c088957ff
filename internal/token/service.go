package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/leadflow/internal/metrics"
	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/repository"
)

const (
	// DefaultAccessTTL はアクセストークンのデフォルト有効期間。
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL はリフレッシュトークンのデフォルト有効期間。
	DefaultRefreshTTL = 14 * 24 * time.Hour
)

// Config はトークンサービスの設定。
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now はテスト用の時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Service はトークンの発行、検証、失効を行う。
// トークンレコードはこのサービスだけが書き込む。
type Service struct {
	signer     Signer
	validator  *Validator
	store      repository.TokenRepository
	metrics    metrics.MetricsCollector
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(store repository.TokenRepository, cfg Config, collector metrics.MetricsCollector) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	codec := NewJWTCodec(cfg.Secret, cfg.Issuer, cfg.Audience, now)
	return &Service{
		signer:     codec,
		validator:  NewValidator(codec, store, now),
		store:      store,
		metrics:    collector,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        now,
	}
}

// AccessTTL はアクセストークンの有効期間を返す。Cookieのmax-ageに使う。
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL はリフレッシュトークンの有効期間を返す。
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Issue は指定種別のトークンを署名して発行し、対応するレコードを保存する。
// 保存に失敗した場合はトークンを返さない。
func (s *Service) Issue(ctx context.Context, user *model.User, kind model.TokenKind) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("cannot issue token without user")
	}

	var ttl time.Duration
	switch kind {
	case model.TokenKindAccess:
		ttl = s.accessTTL
	case model.TokenKindRefresh:
		ttl = s.refreshTTL
	default:
		return "", fmt.Errorf("unknown token kind: %q", kind)
	}

	// JWTの時刻クレームは秒精度のため、レコード側も揃える
	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	id := uuid.NewString()

	raw, err := s.signer.Sign(&Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return "", err
	}

	record := &model.Token{
		ID:        id,
		UserID:    user.ID,
		Kind:      kind,
		TokenHash: HashToken(raw),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	if err := s.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to persist %s token: %w", kind, err)
	}

	s.metrics.RecordTokenIssued(string(kind))
	return raw, nil
}

// Validate は署名とストア状態の両方を検証してクレームを返す。
// 失効済みトークンは監査のため期限切れとは別にログに残す。
func (s *Service) Validate(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.validator.Validate(ctx, raw)
	if err != nil {
		reason := FailureReason(err)
		s.metrics.RecordValidationFailure(reason)
		if errors.Is(err, ErrTokenRevoked) {
			slog.Warn("revoked token presented",
				slog.String("reason", reason),
				slog.String("token_hash", HashToken(raw)[:12]),
			)
		}
		return nil, err
	}
	return claims, nil
}

// ValidateKind はValidateに加えてトークン種別を検証する。
// 種別が異なる場合はErrTokenInvalidを返す。
func (s *Service) ValidateKind(ctx context.Context, raw string, kind model.TokenKind) (*Claims, error) {
	claims, err := s.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrTokenInvalid, kind, claims.TokenType)
	}
	return claims, nil
}

// IsAccessToken は有効なアクセストークンかどうかを返す。検証エラーはfalseとして扱う。
// 失敗理由が不要な呼び出し元向けの入口で、認証ミドルウェアは理由を区別するためValidateKindを使う。
func (s *Service) IsAccessToken(ctx context.Context, raw string) bool {
	claims, err := s.Validate(ctx, raw)
	return err == nil && claims.TokenType == model.TokenKindAccess
}

// IsRefreshToken は有効なリフレッシュトークンかどうかを返す。検証エラーはfalseとして扱う。
func (s *Service) IsRefreshToken(ctx context.Context, raw string) bool {
	claims, err := s.Validate(ctx, raw)
	return err == nil && claims.TokenType == model.TokenKindRefresh
}

// RevokeAll は指定ユーザーの有効なトークンをすべて失効させる。
// ログアウト、認証情報やロールの変更時に使う。
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.RevokeAllByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens for user %s: %w", userID, err)
	}

	s.metrics.RecordTokensRevoked(n)
	slog.Info("revoked all tokens",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)
	return n, nil
}

// Revoke は指定されたトークンを失効させる。空文字の引数は無視する。
func (s *Service) Revoke(ctx context.Context, accessToken, refreshToken string) error {
	var hashes []string
	for _, raw := range []string{accessToken, refreshToken} {
		if raw != "" {
			hashes = append(hashes, HashToken(raw))
		}
	}
	if len(hashes) == 0 {
		return nil
	}

	n, err := s.store.RevokeByHashes(ctx, hashes)
	if err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	s.metrics.RecordTokensRevoked(n)
	return nil
}

// MarkExpired は有効期限を過ぎたレコードに期限切れフラグを立てる。冪等。
// リクエスト処理からは呼ばず、定期ジョブから呼ぶ。
func (s *Service) MarkExpired(ctx context.Context) (int64, error) {
	n, err := s.store.MarkExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired tokens: %w", err)
	}
	s.metrics.RecordTokensExpired(n)
	return n, nil
}

// DeleteStale はbefore以前に失効・期限切れとなったレコードを削除する。
func (s *Service) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.store.DeleteStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale tokens: %w", err)
	}
	return n, nil
}

package token

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/leadflow/internal/model"
)

// TokenStateStore はトークンの失効・期限切れ状態を参照する。
// 「このトークンはまだ使ってよいか」の判定者。
type TokenStateStore interface {
	FindByHash(ctx context.Context, tokenHash string) (*model.Token, error)
}

// Validator は署名検証とストア照合の両方が通った場合のみ成功とする。
type Validator struct {
	verifier SignatureVerifier
	store    TokenStateStore
	now      func() time.Time
}

// NewValidator はValidatorを生成する。nowがnilの場合はtime.Nowを使う。
func NewValidator(verifier SignatureVerifier, store TokenStateStore, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{verifier: verifier, store: store, now: now}
}

// Validate は署名を先に検証し（失敗時は即座に返す）、次にストアのレコードを照合する。
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	claims, err := v.verifier.Verify(raw)
	if err != nil {
		return nil, err
	}

	record, err := v.store.FindByHash(ctx, HashToken(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to look up token state: %w", err)
	}
	switch {
	case record == nil:
		return nil, fmt.Errorf("%w: unknown token", ErrTokenInvalid)
	case record.UserID != claims.UserID || record.Kind != claims.TokenType:
		return nil, fmt.Errorf("%w: token record mismatch", ErrTokenInvalid)
	case record.Revoked:
		return nil, ErrTokenRevoked
	case !record.IsActive(v.now()):
		return nil, fmt.Errorf("%w: token record expired", ErrTokenExpired)
	}

	return claims, nil
}

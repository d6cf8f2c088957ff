package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureVerifier はトークンの署名と標準時刻クレームを検証する。
// 「当サービスが発行し改ざんされていないか」の判定者。
type SignatureVerifier interface {
	Verify(raw string) (*Claims, error)
}

// Signer はクレームに署名してトークン文字列を生成する。
type Signer interface {
	Sign(claims *Claims) (string, error)
}

// JWTCodec はHS256で署名・検証を行うSigner/SignatureVerifierの実装。
type JWTCodec struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewJWTCodec はJWTCodecを生成する。nowがnilの場合はtime.Nowを使う。
func NewJWTCodec(secret []byte, issuer, audience string, now func() time.Time) *JWTCodec {
	if now == nil {
		now = time.Now
	}
	return &JWTCodec{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		now:      now,
	}
}

// Sign はクレームにiss/audを設定し、HS256で署名する。
func (c *JWTCodec) Sign(claims *Claims) (string, error) {
	claims.Issuer = c.issuer
	claims.Audience = jwt.ClaimStrings{c.audience}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify は署名、アルゴリズム、iss、aud、expを検証する。
// 期限切れはErrTokenExpired、それ以外の失敗はErrTokenInvalidを返す。
func (c *JWTCodec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Subject == "" || claims.Subject != claims.UserID || !claims.TokenType.Valid() {
		return nil, fmt.Errorf("%w: malformed claims", ErrTokenInvalid)
	}
	return claims, nil
}

var (
	_ Signer            = (*JWTCodec)(nil)
	_ SignatureVerifier = (*JWTCodec)(nil)
)

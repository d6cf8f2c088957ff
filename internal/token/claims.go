// Package token はアクセストークン・リフレッシュトークンの発行、検証、失効を提供する。
package token

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/leadflow/internal/model"
)

// Claims は署名前のトークンペイロード。
// sub, iss, aud, iat, exp, jti は登録済みクレームに載せる。
type Claims struct {
	UserID    string          `json:"userId"`
	Email     string          `json:"email"`
	Username  string          `json:"username"`
	TokenType model.TokenKind `json:"tokenType"`
	jwt.RegisteredClaims
}

// HashToken は署名済みトークン文字列のSHA-256ハッシュを16進で返す。
// 永続化と照合にはこの値を使う。
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

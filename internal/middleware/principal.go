// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/leadflow/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// principalContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
	principalContextKey = contextKey("principal")
	// requestInfoContextKey はロギングミドルウェアが認証結果を受け取るためのキー。
	requestInfoContextKey = contextKey("request_info")
)

// requestInfo はロギングミドルウェアが内側のミドルウェアから受け取る情報。
type requestInfo struct {
	userID string
}

// WithPrincipal はコンテキストに認証済みユーザーを格納する。
// 外側のロギングミドルウェアにもユーザーIDを通知する。
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = p.UserID
	}
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	return p, ok && p != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアでPrincipalが設定されたリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.UserID, nil
}

// ContextWithUserID はユーザーIDだけを持つPrincipalをコンテキストに注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return WithPrincipal(ctx, &model.Principal{UserID: userID})
}

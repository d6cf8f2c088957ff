package middleware

import (
	"context"
	"testing"

	"github.com/hitoshi/leadflow/internal/model"
)

func TestPrincipalFromContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), &model.Principal{UserID: "user-1", Role: "ADMIN"})

	p, ok := PrincipalFromContext(ctx)
	if !ok {
		t.Fatal("expected principal in context")
	}
	if p.UserID != "user-1" || p.Role != "ADMIN" {
		t.Errorf("principal = %+v", p)
	}

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("empty context should not have principal")
	}
}

func TestUserIDFromContext(t *testing.T) {
	userID, err := UserIDFromContext(ContextWithUserID(context.Background(), "user-2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-2" {
		t.Errorf("userID = %q, want %q", userID, "user-2")
	}

	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
	if _, err := UserIDFromContext(ContextWithUserID(context.Background(), "")); err == nil {
		t.Error("expected error for empty user ID")
	}
}

func TestWithPrincipal_FillsRequestInfo(t *testing.T) {
	info := &requestInfo{}
	ctx := context.WithValue(context.Background(), requestInfoContextKey, info)

	WithPrincipal(ctx, &model.Principal{UserID: "user-3"})

	if info.userID != "user-3" {
		t.Errorf("requestInfo.userID = %q, want %q", info.userID, "user-3")
	}
}

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// PostgresSubscriptionRepoはSubscriptionRepositoryインターフェースを満たすことを検証
func TestPostgresSubscriptionRepo_ImplementsInterface(t *testing.T) {
	var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
}

func TestPostgresSubscriptionRepo_FindActiveByUserID_JoinsPlan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSubscriptionRepo(db)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)
	mock.ExpectQuery(`JOIN subscription_plans p ON p.id = s.plan_id\s+WHERE s.user_id = \$1 AND s.active = true`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "plan_id", "name", "is_trial", "start_date", "end_date", "active"}).
			AddRow("sub-1", "user-1", "plan-trial", "Trial", true, start, end, true))

	sub, err := repo.FindActiveByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub == nil {
		t.Fatal("expected subscription, got nil")
	}
	if !sub.IsTrial || sub.PlanName != "Trial" {
		t.Errorf("plan = (%q, trial=%v), want (Trial, true)", sub.PlanName, sub.IsTrial)
	}
	if !sub.EndDate.Equal(end) {
		t.Errorf("EndDate = %v, want %v", sub.EndDate, end)
	}
	assertExpectations(t, mock)
}

func TestPostgresSubscriptionRepo_FindActiveByUserID_None_ReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSubscriptionRepo(db)

	mock.ExpectQuery(`FROM subscriptions s`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sub, err := repo.FindActiveByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != nil {
		t.Errorf("expected nil, got %+v", sub)
	}
}

func TestPostgresSubscriptionRepo_FindActiveByUserID_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSubscriptionRepo(db)

	mock.ExpectQuery(`FROM subscriptions s`).WillReturnError(errors.New("db down"))

	if _, err := repo.FindActiveByUserID(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
}

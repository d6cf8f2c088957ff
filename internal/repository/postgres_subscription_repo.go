package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/leadflow/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した契約リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindActiveByUserID はユーザーのアクティブな契約をプラン情報付きで取得する。
// 見つからない場合はnilを返す。
// アクティブな契約はユーザーごとに最大1件（部分ユニークインデックスで保証）。
func (r *PostgresSubscriptionRepo) FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.plan_id, p.name, p.is_trial, s.start_date, s.end_date, s.active
		 FROM subscriptions s
		 JOIN subscription_plans p ON p.id = s.plan_id
		 WHERE s.user_id = $1 AND s.active = true`,
		userID,
	).Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.PlanName, &sub.IsTrial,
		&sub.StartDate, &sub.EndDate, &sub.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アクティブな契約の取得に失敗しました: %w", err)
	}

	return sub, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

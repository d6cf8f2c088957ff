package model

import "time"

// Subscription はユーザーの有料プラン契約を表す。
// ユーザーごとにアクティブな契約は最大1件。終了後も履歴として行は残る。
type Subscription struct {
	ID        string
	UserID    string
	PlanID    string
	PlanName  string
	IsTrial   bool
	StartDate time.Time
	EndDate   time.Time
	Active    bool
}

// SubscriptionStatus は契約状態を表す。
type SubscriptionStatus string

const (
	// SubscriptionStatusActive は契約期間中。
	SubscriptionStatusActive SubscriptionStatus = "ACTIVE"
	// SubscriptionStatusGracePeriod は契約終了後の猶予期間中。
	SubscriptionStatusGracePeriod SubscriptionStatus = "GRACE_PERIOD"
	// SubscriptionStatusExpired は猶予期間も終了した状態。
	SubscriptionStatusExpired SubscriptionStatus = "EXPIRED"
	// SubscriptionStatusTrialExpired はトライアルプランの猶予期間が終了した状態。
	SubscriptionStatusTrialExpired SubscriptionStatus = "TRIAL_EXPIRED"
	// SubscriptionStatusNone はアクティブな契約が存在しない状態。
	SubscriptionStatusNone SubscriptionStatus = "NO_SUBSCRIPTION"
)

// AllowsAccess は保護されたリソースへのアクセスを許可する状態かどうかを返す。
func (s SubscriptionStatus) AllowsAccess() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusGracePeriod
}

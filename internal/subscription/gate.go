// Package subscription は契約状態の判定と、保護リソースへのアクセス可否の判定を提供する。
package subscription

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/repository"
)

// DefaultGracePeriod は契約終了後もアクセスを許可する猶予期間のデフォルト値。
const DefaultGracePeriod = 3 * 24 * time.Hour

// ComputeStatus はnowと契約レコードから契約状態を求める純粋関数。
//
//	契約なし                          → NO_SUBSCRIPTION
//	now < end                         → ACTIVE
//	end <= now < end+grace            → GRACE_PERIOD
//	now >= end+grace（トライアル）     → TRIAL_EXPIRED
//	now >= end+grace（それ以外）       → EXPIRED
func ComputeStatus(sub *model.Subscription, now time.Time, grace time.Duration) model.SubscriptionStatus {
	if sub == nil {
		return model.SubscriptionStatusNone
	}
	if now.Before(sub.EndDate) {
		return model.SubscriptionStatusActive
	}
	if now.Before(sub.EndDate.Add(grace)) {
		return model.SubscriptionStatusGracePeriod
	}
	if sub.IsTrial {
		return model.SubscriptionStatusTrialExpired
	}
	return model.SubscriptionStatusExpired
}

// StatusReport はクライアント表示用の契約状態。
// 表示専用であり、アクセス可否の判定には使わない（判定はStatusまたはHasValidAccessで行う）。
type StatusReport struct {
	Status             model.SubscriptionStatus
	HasAccess          bool
	PlanName           string
	IsTrial            bool
	EndDate            *time.Time
	DaysRemaining      int
	GraceDaysRemaining int
	AllowedEndpoints   []string // アクセス不可の場合に利用できるパス
	Message            string
}

// Config はGateの設定。
type Config struct {
	GracePeriod time.Duration
	// AllowedEndpoints は契約がなくても利用できるパスの一覧（表示用）。
	AllowedEndpoints []string
	// Now はテスト用の時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Gate は契約状態を判定する。
type Gate struct {
	subRepo          repository.SubscriptionRepository
	grace            time.Duration
	allowedEndpoints []string
	now              func() time.Time
}

// NewGate はGateを生成する。
func NewGate(subRepo repository.SubscriptionRepository, cfg Config) *Gate {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		subRepo:          subRepo,
		grace:            cfg.GracePeriod,
		allowedEndpoints: cfg.AllowedEndpoints,
		now:              cfg.Now,
	}
}

// Status はユーザーの現在の契約状態を返す。
func (g *Gate) Status(ctx context.Context, userID string) (model.SubscriptionStatus, error) {
	status, _, err := g.lookup(ctx, userID)
	return status, err
}

// HasValidAccess はACTIVEまたはGRACE_PERIODの場合にtrueを返す。
// 外部から契約の有効性だけを問い合わせるための入口。認証ミドルウェアは同じ判定をStatus().AllowsAccess()で行う。
func (g *Gate) HasValidAccess(ctx context.Context, userID string) (bool, error) {
	status, err := g.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.AllowsAccess(), nil
}

// CheckStatus は表示用の契約状態レポートを返す。
func (g *Gate) CheckStatus(ctx context.Context, userID string) (*StatusReport, error) {
	status, sub, err := g.lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	report := &StatusReport{
		Status:    status,
		HasAccess: status.AllowsAccess(),
	}
	if sub != nil {
		end := sub.EndDate
		report.PlanName = sub.PlanName
		report.IsTrial = sub.IsTrial
		report.EndDate = &end
	}
	if !report.HasAccess {
		report.AllowedEndpoints = g.allowedEndpoints
	}

	switch status {
	case model.SubscriptionStatusActive:
		report.DaysRemaining = ceilDays(sub.EndDate.Sub(now))
		report.Message = fmt.Sprintf("%sプランをご利用中です（残り%d日）。", sub.PlanName, report.DaysRemaining)
	case model.SubscriptionStatusGracePeriod:
		report.GraceDaysRemaining = ceilDays(sub.EndDate.Add(g.grace).Sub(now))
		report.Message = fmt.Sprintf("契約期間が終了しました。あと%d日で利用できなくなります。", report.GraceDaysRemaining)
	case model.SubscriptionStatusTrialExpired:
		report.Message = "トライアル期間が終了しました。有料プランに登録してください。"
	case model.SubscriptionStatusExpired:
		report.Message = "契約の有効期限が切れています。契約を更新してください。"
	default:
		report.Message = "有効な契約がありません。プランに登録してください。"
	}

	return report, nil
}

func (g *Gate) lookup(ctx context.Context, userID string) (model.SubscriptionStatus, *model.Subscription, error) {
	sub, err := g.subRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("契約情報の取得に失敗しました: %w", err)
	}
	return ComputeStatus(sub, g.now(), g.grace), sub, nil
}

// ceilDays は期間を日数に切り上げる。負の期間は0を返す。
func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

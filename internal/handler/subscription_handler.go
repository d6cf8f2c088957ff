package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/leadflow/internal/middleware"
	"github.com/hitoshi/leadflow/internal/model"
	"github.com/hitoshi/leadflow/internal/subscription"
)

// SubscriptionServiceInterface は契約状態ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// CheckStatus はクライアント表示用の契約状態を返す。
	CheckStatus(ctx context.Context, userID string) (*subscription.StatusReport, error)
}

// SubscriptionHandler は契約状態のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
	}
}

// subscriptionStatusResponse は契約状態のAPIレスポンス。
type subscriptionStatusResponse struct {
	Status             model.SubscriptionStatus `json:"status"`
	HasAccess          bool                     `json:"has_access"`
	PlanName           string                   `json:"plan_name,omitempty"`
	IsTrial            bool                     `json:"is_trial"`
	EndDate            *time.Time               `json:"end_date,omitempty"`
	DaysRemaining      int                      `json:"days_remaining"`
	GraceDaysRemaining int                      `json:"grace_days_remaining"`
	AllowedEndpoints   []string                 `json:"allowed_endpoints,omitempty"`
	Message            string                   `json:"message"`
}

// GetStatus はログインユーザーの契約状態を返す。
// 契約が切れていても参照できるよう、契約ゲートの対象外パスに置く。
// GET /api/subscriptions/status
func (h *SubscriptionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	report, err := h.service.CheckStatus(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionStatusResponse{
		Status:             report.Status,
		HasAccess:          report.HasAccess,
		PlanName:           report.PlanName,
		IsTrial:            report.IsTrial,
		EndDate:            report.EndDate,
		DaysRemaining:      report.DaysRemaining,
		GraceDaysRemaining: report.GraceDaysRemaining,
		AllowedEndpoints:   report.AllowedEndpoints,
		Message:            report.Message,
	})
}

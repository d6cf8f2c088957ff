package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/leadflow/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// SubscriptionRequiredBody は契約ゲートで拒否した場合のレスポンス。
// 認証エラーと区別できるよう、統一フォーマットとは別の形を使う。
type SubscriptionRequiredBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteSubscriptionRequired は402 Payment Requiredレスポンスを書き込む。
func WriteSubscriptionRequired(w http.ResponseWriter, status model.SubscriptionStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(SubscriptionRequiredBody{
		Error:   "Subscription required",
		Message: subscriptionRequiredMessage(status),
		Code:    model.ErrCodeSubscriptionRequired,
	})
}

func subscriptionRequiredMessage(status model.SubscriptionStatus) string {
	switch status {
	case model.SubscriptionStatusTrialExpired:
		return "トライアル期間が終了しました。引き続き利用するには有料プランに登録してください。"
	case model.SubscriptionStatusExpired:
		return "契約の有効期限が切れています。契約を更新してください。"
	default:
		return "この機能を利用するには有効な契約が必要です。"
	}
}

package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/packmart/internal/model"
)

// ErrorResponseBody はエラー応答のJSON。SPAはcodeで分岐し、messageとactionをそのまま表示する。
// fieldsは入力エラーの項目別メッセージ、redirect_toはガードが拒否したときの遷移先。
type ErrorResponseBody struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Action     string            `json:"action"`
	Fields     map[string]string `json:"fields,omitempty"`
	RedirectTo string            `json:"redirect_to,omitempty"`
}

func newErrorResponseBody(e *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:       e.Code,
		Message:    e.Message,
		Category:   e.Category,
		Action:     e.Action,
		Fields:     e.Fields,
		RedirectTo: e.RedirectTo,
	}
}

// internalError は原因を伏せた500応答。詳細は呼び出し側でログに残す。
var internalError = &model.APIError{
	Code:     "INTERNAL_ERROR",
	Message:  "内部エラーが発生しました。",
	Category: "system",
	Action:   "しばらく待ってから再度お試しください。",
}

// WriteErrorResponse はAPIErrorを指定ステータスのJSONとして書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = internalError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(newErrorResponseBody(apiErr))
}

// WriteInternalServerError は500を書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, internalError)
}

package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error はプラットフォームが返したエラーレスポンスを表す。
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("platform error %d: %s", e.StatusCode, e.Message)
}

// 認証APIの判定用エラー
var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが誤っていることを示す。
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrUserAlreadyExists は同じメールアドレスのアカウントが既に存在することを示す。
	ErrUserAlreadyExists = errors.New("user already registered")
	// ErrInvalidRefreshToken はリフレッシュトークンが無効または失効していることを示す。
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// noRowsCode はSingle()指定で行が見つからない場合のPostgRESTエラーコード。
const noRowsCode = "PGRST116"

// IsNotFound は行が存在しないことを示すエラーかどうかを判定する。
func IsNotFound(err error) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Code == noRowsCode || perr.StatusCode == http.StatusNotFound
}

// parseError はPostgREST/GoTrue/Storage形式のエラーボディを解析する。
// GoTrueはcodeを数値で返すことがあるため、RawMessageで受けて文字列化する。
func parseError(body []byte, statusCode int) *Error {
	var raw struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		Details          string          `json:"details"`
		Hint             string          `json:"hint"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}

	if err := json.Unmarshal(body, &raw); err != nil {
		return &Error{StatusCode: statusCode, Code: "unknown", Message: strings.TrimSpace(string(body))}
	}

	code := raw.ErrorCode
	if code == "" && len(raw.Code) > 0 {
		var s string
		if json.Unmarshal(raw.Code, &s) == nil {
			code = s
		}
	}
	if code == "" {
		code = raw.Error
	}

	msg := raw.Message
	for _, alt := range []string{raw.Msg, raw.ErrorDescription, raw.Error} {
		if msg == "" {
			msg = alt
		}
	}

	return &Error{
		StatusCode: statusCode,
		Code:       code,
		Message:    msg,
		Details:    raw.Details,
		Hint:       raw.Hint,
	}
}

// classifyAuthError は認証APIのエラーを判定用エラーにラップする。
func classifyAuthError(err error) error {
	var perr *Error
	if !errors.As(err, &perr) {
		return err
	}

	lower := strings.ToLower(perr.Message)
	switch {
	case perr.Code == "invalid_credentials",
		perr.Code == "invalid_grant" && strings.Contains(lower, "credentials"),
		strings.Contains(lower, "invalid login credentials"):
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, perr)
	case perr.Code == "user_already_exists",
		perr.Code == "email_exists",
		strings.Contains(lower, "already registered"):
		return fmt.Errorf("%w: %v", ErrUserAlreadyExists, perr)
	case perr.Code == "refresh_token_not_found",
		perr.Code == "refresh_token_already_used",
		perr.Code == "invalid_grant" && strings.Contains(lower, "refresh token"):
		return fmt.Errorf("%w: %v", ErrInvalidRefreshToken, perr)
	}
	return err
}

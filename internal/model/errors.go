package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, catalog, messaging, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // 入力項目ごとのエラー（validationのみ）

	// RedirectTo はクライアントが遷移すべきパス（ルートガードによる拒否時のみ）。
	RedirectTo string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbiddenRole      = "FORBIDDEN_ROLE"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeProfileCreation    = "PROFILE_CREATION_FAILED"
	ErrCodeProfileRequired    = "PROFILE_REQUIRED"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeRemoteQuery        = "REMOTE_QUERY_FAILED"
	ErrCodeProductNotFound    = "PRODUCT_NOT_FOUND"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeImageFetchFailed   = "IMAGE_FETCH_FAILED"
	ErrCodeImageNotDetected   = "IMAGE_NOT_DETECTED"
	ErrCodeStaleResponse      = "STALE_RESPONSE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeCSRFFailed         = "CSRF_VALIDATION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
)

// 認証エラーの原因
const (
	AuthReasonInvalidCredentials = "invalid_credentials"
	AuthReasonEmailTaken         = "email_taken"
	AuthReasonNotAuthenticated   = "not_authenticated"
	AuthReasonSessionExpired     = "session_expired"
)

// AuthError は認証に失敗したことを表す。
// フォームにそのまま表示され、自動リトライはしない。
type AuthError struct {
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error (%s)", e.Reason)
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error { return e.Err }

// APIError はHTTPレスポンス用のAPIErrorに変換する。
func (e *AuthError) APIError() *APIError {
	switch e.Reason {
	case AuthReasonInvalidCredentials:
		return &APIError{
			Code:     ErrCodeInvalidCredentials,
			Message:  "メールアドレスまたはパスワードが正しくありません。",
			Category: "auth",
			Action:   "入力内容を確認して再度ログインしてください。",
		}
	case AuthReasonEmailTaken:
		return &APIError{
			Code:     ErrCodeEmailTaken,
			Message:  "このメールアドレスは既に登録されています。",
			Category: "auth",
			Action:   "ログインするか、別のメールアドレスで登録してください。",
		}
	case AuthReasonSessionExpired:
		return &APIError{
			Code:     ErrCodeSessionExpired,
			Message:  "セッションの有効期限が切れました。",
			Category: "auth",
			Action:   "ログインし直してください。",
		}
	default:
		return &APIError{
			Code:     ErrCodeUnauthenticated,
			Message:  "ログインが必要です。",
			Category: "auth",
			Action:   "ログインしてから再度お試しください。",
		}
	}
}

// ProfileCreationError はIdentity作成後にProfileの登録に失敗したことを表す。
// Identityは残るため、次回ログイン時またはプロフィール補完で修復する。
type ProfileCreationError struct {
	IdentityID string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *ProfileCreationError) Error() string {
	return fmt.Sprintf("profile creation failed for identity %s: %v", e.IdentityID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *ProfileCreationError) Unwrap() error { return e.Err }

// APIError はHTTPレスポンス用のAPIErrorに変換する。
func (e *ProfileCreationError) APIError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileCreation,
		Message:  "アカウントの作成中にエラーが発生しました。",
		Category: "auth",
		Action:   "しばらく待ってからログインしてください。プロフィールはログイン時に自動で補完されます。",
	}
}

// ValidationError はクライアント側の入力検証エラーを表す。
// リモート呼び出しの前に返され、送信はブロックされる。
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError は1項目のみのValidationErrorを生成する。
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// APIError はHTTPレスポンス用のAPIErrorに変換する。
func (e *ValidationError) APIError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目のエラーを確認して修正してください。",
		Fields:   e.Fields,
	}
}

// RemoteQueryError はプラットフォームへの取得・登録・更新の失敗を表す。
// 呼び出し元でビューのエラー表示に変換され、リトライはしない。
type RemoteQueryError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *RemoteQueryError) Error() string {
	return fmt.Sprintf("remote query %s failed: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *RemoteQueryError) Unwrap() error { return e.Err }

// APIError はHTTPレスポンス用のAPIErrorに変換する。
func (e *RemoteQueryError) APIError() *APIError {
	return &APIError{
		Code:     ErrCodeRemoteQuery,
		Message:  "データの取得または保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// ErrProfileRequired はIdentityは存在するがProfileがないことを示す。
var ErrProfileRequired = errors.New("profile required")

// NewProfileRequiredError はプロフィール未作成エラーを生成する。
func NewProfileRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileRequired,
		Message:  "アカウントのプロフィールが作成されていません。",
		Category: "auth",
		Action:   "ロールと会社名を入力してプロフィールを完成させてください。",
	}
}

// NewUnauthenticatedError はセッションが存在しない場合のエラーを生成する。
func NewUnauthenticatedError(redirectTo string) *APIError {
	return &APIError{
		Code:       ErrCodeUnauthenticated,
		Message:    "ログインが必要です。",
		Category:   "auth",
		Action:     "ログインしてから再度お試しください。",
		RedirectTo: redirectTo,
	}
}

// NewForbiddenRoleError はロールが一致しない場合のエラーを生成する。
func NewForbiddenRoleError(required Role, redirectTo string) *APIError {
	return &APIError{
		Code:       ErrCodeForbiddenRole,
		Message:    fmt.Sprintf("このページは %s のみ利用できます。", required),
		Category:   "auth",
		Action:     "対応するロールのアカウントでログインしてください。",
		RedirectTo: redirectTo,
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: "catalog",
		Action:   "商品一覧から選び直してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
	}
}

// NewImageFetchFailedError は画像取得失敗エラーを生成する。
func NewImageFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeImageFetchFailed,
		Message:  fmt.Sprintf("画像の取得に失敗しました: %s", reason),
		Category: "catalog",
		Action:   "URLが正しいか確認するか、画像ファイルを直接アップロードしてください。",
	}
}

// NewImageNotDetectedError は指定URLから画像を検出できなかった場合のエラーを生成する。
func NewImageNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeImageNotDetected,
		Message:  fmt.Sprintf("指定されたURLから画像を検出できませんでした: %s", url),
		Category: "catalog",
		Action:   "画像ファイルのURLを直接入力してください。",
	}
}

// NewStaleResponseError はより新しい読み込みによって結果が破棄された場合のエラーを生成する。
func NewStaleResponseError() *APIError {
	return &APIError{
		Code:     ErrCodeStaleResponse,
		Message:  "より新しい検索条件で読み込み中のため、この結果は破棄されました。",
		Category: "catalog",
		Action:   "最新の検索結果を表示してください。",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

package middleware

import (
	"net/http"

	"github.com/hitoshi/packmart/internal/guard"
	"github.com/hitoshi/packmart/internal/model"
)

// RequireSession はログイン中のセッションを必須とするミドルウェアを返す。
// セッションがない場合は401とリダイレクト先を返す。
func RequireSession() func(next http.Handler) http.Handler {
	return requireAccess("")
}

// RequireRole は指定ロールのセッションを必須とするミドルウェアを返す。
// セッションがない場合は401、ロールが一致しない場合は403とリダイレクト先を返す。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return requireAccess(role)
}

func requireAccess(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			decision := guard.Evaluate(sess, role)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if sess == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(decision.RedirectTo))
				return
			}
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenRoleError(role, decision.RedirectTo))
		})
	}
}

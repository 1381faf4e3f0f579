package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder は最初に書き込まれたステータスコードと本文のバイト数を控える。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode, sr.written = code, true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode, sr.written = http.StatusOK, true
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Hijack はWebSocketのアップグレードに使われる。成功時は101として記録する。
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil && !sr.written {
		sr.statusCode, sr.written = http.StatusSwitchingProtocols, true
	}
	return conn, rw, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// requestNote は内側のミドルウェアが判明させたクライアントを外側のログへ渡す入れ物。
type requestNote struct {
	binding *clientBinding
}

var requestNoteContextKey = contextKey("request_note")

// noteClient はリクエストのクライアントをアクセスログ用に記録する。
func noteClient(ctx context.Context, b *clientBinding) {
	if n, ok := ctx.Value(requestNoteContextKey).(*requestNote); ok {
		n.binding = b
	}
}

// NewLoggingMiddleware はリクエストごとに1行のアクセスログを出力するミドルウェアを返す。
// 5xxはError、4xxはWarn、それ以外はInfoで記録する。
// client_idは先頭8文字のみ、user_idはレスポンス後のセッションから取るのでログイン直後も反映される。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			note := &requestNote{binding: bindingFromContext(r.Context())}
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestNoteContextKey, note)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if note.binding != nil {
				if id := note.binding.id(); id != "" {
					attrs = append(attrs, slog.String("client_id", id[:min(8, len(id))]))
				}
				if store := note.binding.peek(); store != nil {
					if sess := store.Current(); sess != nil {
						attrs = append(attrs, slog.String("user_id", sess.UserID()))
					}
				}
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}

package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a JSON 500 response and logs it with
// the stack. http.ErrAbortHandler is re-raised so net/http can abort the
// connection quietly.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared as panic value
					panic(rec)
				}
				zctx.From(r.Context()).Error("Panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)

				e := jx.GetEncoder()
				defer jx.PutEncoder(e)
				e.ObjStart()
				e.FieldStart("code")
				e.Int(http.StatusInternalServerError)
				e.FieldStart("message")
				e.Str("Internal server error")
				e.ObjEnd()

				w.Header().Set("Connection", "close")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write(e.Bytes())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

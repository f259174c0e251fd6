package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	msgSuccess     = "Successful."
	msgUnavailable = "We're sorry, the products you requested are not available!"
	msgPlaceFailed = "Error adding order to database!"
	msgInternal    = "Internal server error"
)

// writeJSON writes body built by fn with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

// writeEnvelope writes {"code","message"[,"data"]} plus any extra fields.
// A nil data omits the field.
func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, message string, data func(e *jx.Encoder), extra ...func(e *jx.Encoder)) {
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		if data != nil {
			e.FieldStart("data")
			data(e)
		}
		for _, fn := range extra {
			fn(e)
		}
		e.ObjEnd()
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeEnvelope(w, r, status, message, nil)
}

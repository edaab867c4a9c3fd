package middleware

import (
	"net/http"

	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

const (
	traceIDHeader  = "X-Request-ID"
	maxTraceIDSize = 128
)

// Tracing gives every request a trace id, echoed in X-Request-ID. A caller's
// id is kept when well formed, so payout rail callbacks carry the id of the
// request that submitted the payout.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceIDHeader)
		if !validTraceID(traceID) {
			traceID = logging.NewTraceID()
		}

		w.Header().Set(traceIDHeader, traceID)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), traceID)))
	})
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDSize {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

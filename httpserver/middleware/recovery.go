package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/pure-golang/sendgrid/logger"
)

// Recovery recovers panic and logs it on ERROR level. 500 http status is returned.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			logger.FromContext(r.Context()).
				With("err", err).
				With("stack", stackLines(debug.Stack())).
				Error("Panic recovered from handler")
			w.WriteHeader(http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

func stackLines(raw []byte) []string {
	var stack []string
	for _, line := range strings.Split(strings.ReplaceAll(string(raw), "\t", ""), "\n") {
		if line != "" {
			stack = append(stack, line)
		}
	}
	return stack
}

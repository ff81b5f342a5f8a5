// Recovery recovers panic raised by a completion callback and logs it on ERROR level.
package middleware

import (
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/pure-golang/sendgrid/httpclient"
)

func Recovery(log *slog.Logger, done func(httpclient.Response)) func(httpclient.Response) {
	if log == nil {
		log = slog.Default()
	}

	return func(resp httpclient.Response) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}

			rawStack := strings.ReplaceAll(string(debug.Stack()), "\t", "")
			var stack []string
			for _, line := range strings.Split(rawStack, "\n") {
				if line != "" {
					stack = append(stack, line)
				}
			}

			log.
				With("err", err).
				With("stack", stack).
				Error("Panic recovered from completion callback")
		}()

		done(resp)
	}
}

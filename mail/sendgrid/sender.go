package sendgrid

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/sendgrid/httpclient"
	"github.com/pure-golang/sendgrid/httpclient/std"
	"github.com/pure-golang/sendgrid/mail"
)

var _ mail.Sender = (*Sender)(nil)

// Sender implements mail.Sender on top of the SendGrid v2 web API.
type Sender struct {
	cfg    Config
	logger *slog.Logger
	client httpclient.Doer
	async  httpclient.AsyncDoer

	mx     sync.RWMutex
	closed bool
}

// SenderOptions contains options for creating a Sender.
// Nil fields are replaced with defaults.
type SenderOptions struct {
	Logger      *slog.Logger
	Client      httpclient.Doer
	AsyncClient httpclient.AsyncDoer
}

// NewSender creates a new SendGrid Sender. Credentials are stored as is.
func NewSender(cfg Config, options *SenderOptions) *Sender {
	if options == nil {
		options = &SenderOptions{}
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default().WithGroup("sendgrid")
	}
	client := options.Client
	if client == nil {
		client = std.New(std.DefaultConfig())
	}
	async := options.AsyncClient
	if async == nil {
		async = std.NewAsync(client, std.DefaultConfig(), &std.AsyncOptions{Logger: logger})
	}

	return &Sender{
		cfg:    cfg,
		logger: logger,
		client: client,
		async:  async,
	}
}

// SendBlocking sends msg and waits for the answer.
// It returns true only for HTTP 200. An invalid message yields false
// without an error; transport errors are returned as is.
func (s *Sender) SendBlocking(ctx context.Context, msg mail.Message) (bool, error) {
	ctx, span := tracer().Start(ctx, "SendGrid.SendBlocking", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := s.checkClosed(); err != nil {
		recordError(span, err)
		return false, err
	}

	start := time.Now()
	req, err := s.PrepareRequest(ctx, msg)
	if err != nil {
		// PrepareRequest has logged the reason.
		recordSend(modeBlocking, mail.OutcomeRejected, time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return false, nil
	}

	httpReq, err := req.HTTPRequest(ctx)
	if err != nil {
		recordError(span, err)
		return false, err
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		recordSend(modeBlocking, mail.OutcomeFailure, time.Since(start))
		recordError(span, err)
		return false, errors.Wrap(err, "SendGrid request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, readErr := io.ReadAll(resp.Body)
	s.logger.InfoContext(ctx, "SendGrid blocking API request response",
		"status", resp.StatusCode,
		"body", string(body),
	)
	if readErr != nil {
		s.logger.WarnContext(ctx, "failed to read SendGrid response body", "error", readErr.Error())
	} else {
		s.inspectBlockingBody(ctx, body)
	}

	ok := resp.StatusCode == http.StatusOK
	outcome := mail.OutcomeFailure
	if ok {
		outcome = mail.OutcomeSuccess
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	span.SetAttributes(attribute.Int("sendgrid.status", resp.StatusCode))
	recordSend(modeBlocking, outcome, time.Since(start))

	return ok, nil
}

// inspectBlockingBody logs what the API reported. The blocking result
// depends on the status code only.
func (s *Sender) inspectBlockingBody(ctx context.Context, body []byte) {
	parsed, err := parseResponse(body)
	if err != nil {
		s.logger.WarnContext(ctx, "SendGrid malformed response", "error", err.Error())
		return
	}
	if msgs := parsed.errorMessages(); len(msgs) > 0 {
		s.logger.ErrorContext(ctx, "SendGrid API error", "errors", msgs)
	}
}

// Send dispatches msg without blocking. The returned channel receives
// exactly one Result and is closed afterwards. An invalid message returns
// an error matching mail.ErrRejected and no channel.
func (s *Sender) Send(ctx context.Context, msg mail.Message) (<-chan mail.Result, error) {
	done := make(chan mail.Result, 1)

	err := s.SendFunc(ctx, msg, func(res mail.Result) {
		done <- res
		close(done)
	})
	if err != nil {
		return nil, err
	}

	return done, nil
}

// SendFunc dispatches msg without blocking and calls callback exactly once
// with the result, from a goroutine of the async client. callback is never
// called when an error is returned.
func (s *Sender) SendFunc(ctx context.Context, msg mail.Message, callback func(mail.Result)) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	ctx, span := tracer().Start(ctx, "SendGrid.Send", trace.WithSpanKind(trace.SpanKindClient))

	start := time.Now()
	req, err := s.PrepareRequest(ctx, msg)
	if err != nil {
		recordSend(modeAsync, mail.OutcomeRejected, time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return err
	}

	httpReq, err := req.HTTPRequest(ctx)
	if err != nil {
		recordError(span, err)
		span.End()
		return err
	}

	s.async.DoAsync(httpReq, func(resp httpclient.Response) {
		defer span.End()

		res := s.onResult(ctx, resp)
		recordSend(modeAsync, res.Outcome, time.Since(start))
		span.SetAttributes(attribute.Int("sendgrid.status", resp.StatusCode))
		if res.OK() {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, res.Outcome.String())
		}

		callback(res)
	})

	return nil
}

// onResult turns the raw API response into a Result.
// The status code is not consulted: the body decides.
func (s *Sender) onResult(ctx context.Context, resp httpclient.Response) mail.Result {
	if resp.Body == nil || resp.Err != nil {
		err := resp.Err
		if err == nil {
			err = errors.New("empty response")
		}
		s.logger.ErrorContext(ctx, "SendGrid HTTP error", "error", err.Error())
		return mail.Result{Outcome: mail.OutcomeFailure, Err: err}
	}

	parsed, err := parseResponse(resp.Body)
	if err != nil {
		s.logger.ErrorContext(ctx, "SendGrid malformed response",
			"error", err.Error(),
			"status", resp.StatusCode,
		)
		return mail.Result{Outcome: mail.OutcomeFailure, Err: err}
	}

	if msgs := parsed.errorMessages(); len(msgs) > 0 {
		s.logger.ErrorContext(ctx, "SendGrid API error", "errors", msgs)
		return mail.Result{Outcome: mail.OutcomeFailure, Errors: msgs}
	}

	return mail.Result{Outcome: mail.OutcomeSuccess}
}

func (s *Sender) checkClosed() error {
	s.mx.RLock()
	defer s.mx.RUnlock()

	if s.closed {
		return errors.New("sender is closed")
	}
	return nil
}

// Close closes the sender and waits for dispatched messages.
func (s *Sender) Close() error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	s.mx.Unlock()

	return errors.Wrap(s.async.Close(), "failed to close async client")
}

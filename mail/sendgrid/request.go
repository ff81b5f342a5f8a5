package sendgrid

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/pure-golang/sendgrid/mail"
)

const (
	fieldAPIUser = "api_user"
	fieldAPIKey  = "api_key"

	contentTypeForm = "application/x-www-form-urlencoded"
)

// Request is a validated mail send call, ready to be dispatched once.
type Request struct {
	URL    string
	Method string
	Body   string
}

// HTTPRequest builds the form POST for r.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, strings.NewReader(r.Body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build http request")
	}
	req.Header.Set("Content-Type", contentTypeForm)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// PrepareRequest validates msg and builds the API request for it.
// It performs no I/O. An invalid message is logged and reported with an
// error matching mail.ErrRejected.
func (s *Sender) PrepareRequest(ctx context.Context, msg mail.Message) (*Request, error) {
	if err := validate(msg); err != nil {
		s.logRejection(ctx, err)
		return nil, err
	}

	fields := msg.Fields()
	fields.Set(fieldAPIUser, s.cfg.APIUser)
	fields.Set(fieldAPIKey, s.cfg.APIKey)

	return &Request{
		URL:    s.endpoint(),
		Method: http.MethodPost,
		Body:   fields.Encode(),
	}, nil
}

func validate(msg mail.Message) *mail.ValidationError {
	var verr *mail.ValidationError
	if errors.As(mail.Validate(msg), &verr) {
		return verr
	}
	return nil
}

func (s *Sender) logRejection(ctx context.Context, err *mail.ValidationError) {
	level := slog.LevelError
	if err.Field == mail.FieldText {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "Message not sent", "field", err.Field, "reason", err.Reason)
}

func (s *Sender) endpoint() string {
	if s.cfg.Endpoint == "" {
		return DefaultEndpoint
	}
	return s.cfg.Endpoint
}

package sendgrid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/sendgrid/httpclient"
	"github.com/pure-golang/sendgrid/httpclient/std"
	"github.com/pure-golang/sendgrid/logger/stdjson"
	"github.com/pure-golang/sendgrid/mail"
)

// syncBuffer is a log sink safe for async completions.
type syncBuffer struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

// doerFunc is a stub blocking HTTP client.
type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) {
	return f(r)
}

// stubDoer answers every request with status and body and counts calls.
func stubDoer(status int, body string) (doerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
			Request:    r,
		}, nil
	}, &calls
}

var testConfig = Config{APIUser: "user1", APIKey: "secret1"}

func newTestSender(t *testing.T, doer httpclient.Doer) (*Sender, *syncBuffer) {
	t.Helper()

	logs := &syncBuffer{}
	log := stdjson.New(logs, slog.LevelDebug)
	s := NewSender(testConfig, &SenderOptions{
		Logger:      log,
		Client:      doer,
		AsyncClient: std.NewAsync(doer, std.Config{MaxInFlight: 4}, &std.AsyncOptions{Logger: log}),
	})
	t.Cleanup(func() { _ = s.Close() })

	return s, logs
}

func validMessage() mail.Message {
	return mail.Message{
		To:      []string{"a@example.com"},
		Subject: "Hi",
		From:    "b@example.com",
		Text:    "hello",
	}
}

func waitResult(t *testing.T, done <-chan mail.Result) mail.Result {
	t.Helper()

	select {
	case res, ok := <-done:
		require.True(t, ok, "result channel closed without a result")
		select {
		case _, ok := <-done:
			assert.False(t, ok, "result channel must deliver exactly one result")
		case <-time.After(time.Second):
			t.Fatal("result channel was not closed")
		}
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("result was not delivered")
		return mail.Result{}
	}
}

func TestPrepareRequest_MissingRequiredField(t *testing.T) {
	for _, field := range []string{mail.FieldTo, mail.FieldSubject, mail.FieldFrom} {
		t.Run(field, func(t *testing.T) {
			s, logs := newTestSender(t, nil)

			msg := validMessage()
			switch field {
			case mail.FieldTo:
				msg.To = nil
			case mail.FieldSubject:
				msg.Subject = ""
			case mail.FieldFrom:
				msg.From = ""
			}

			req, err := s.PrepareRequest(context.Background(), msg)

			assert.Nil(t, req)
			require.ErrorIs(t, err, mail.ErrRejected)
			var verr *mail.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, field, verr.Field)
			assert.Contains(t, logs.String(), `"level":"ERROR"`)
			assert.Contains(t, logs.String(), "missing required argument "+field)
		})
	}
}

func TestPrepareRequest_ReportsFirstMissingField(t *testing.T) {
	s, _ := newTestSender(t, nil)

	_, err := s.PrepareRequest(context.Background(), mail.Message{Text: "hello"})

	var verr *mail.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, mail.FieldTo, verr.Field)
}

// The content check accepts text or html. Only a message with neither is
// rejected; a text-only message is valid.
func TestPrepareRequest_ContentCheck(t *testing.T) {
	t.Run("neither text nor html", func(t *testing.T) {
		s, logs := newTestSender(t, nil)
		msg := validMessage()
		msg.Text = ""

		req, err := s.PrepareRequest(context.Background(), msg)

		assert.Nil(t, req)
		require.ErrorIs(t, err, mail.ErrRejected)
		assert.Contains(t, logs.String(), `"level":"WARN"`)
		assert.Contains(t, logs.String(), "'text' or 'html' fields required")
	})

	t.Run("text only", func(t *testing.T) {
		s, _ := newTestSender(t, nil)

		req, err := s.PrepareRequest(context.Background(), validMessage())

		require.NoError(t, err)
		assert.NotNil(t, req)
	})

	t.Run("html only", func(t *testing.T) {
		s, _ := newTestSender(t, nil)
		msg := validMessage()
		msg.Text = ""
		msg.HTML = "<p>hello</p>"

		req, err := s.PrepareRequest(context.Background(), msg)

		require.NoError(t, err)
		assert.NotNil(t, req)
	})

	t.Run("content is checked before required fields", func(t *testing.T) {
		s, _ := newTestSender(t, nil)

		_, err := s.PrepareRequest(context.Background(), mail.Message{})

		var verr *mail.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, mail.FieldText, verr.Field)
	})
}

func TestPrepareRequest_Body(t *testing.T) {
	s, logs := newTestSender(t, nil)
	msg := validMessage()
	msg.FromName = "Bob"
	msg.SMTPAPI = `{"category":["welcome"]}`
	msg.Extra = url.Values{"custom": {"x&y=z"}}

	req, err := s.PrepareRequest(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, DefaultEndpoint, req.URL)
	assert.Equal(t, http.MethodPost, req.Method)

	body, err := url.ParseQuery(req.Body)
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"to":        {"a@example.com"},
		"subject":   {"Hi"},
		"from":      {"b@example.com"},
		"text":      {"hello"},
		"fromname":  {"Bob"},
		"x-smtpapi": {`{"category":["welcome"]}`},
		"custom":    {"x&y=z"},
		"api_user":  {"user1"},
		"api_key":   {"secret1"},
	}, body)
	assert.Empty(t, logs.String(), "nothing is logged on success")
}

func TestPrepareRequest_ExtraCannotOverrideCredentials(t *testing.T) {
	s, _ := newTestSender(t, nil)
	msg := validMessage()
	msg.Extra = url.Values{"api_user": {"mallory"}, "api_key": {"stolen"}}

	req, err := s.PrepareRequest(context.Background(), msg)
	require.NoError(t, err)

	body, err := url.ParseQuery(req.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"user1"}, body["api_user"])
	assert.Equal(t, []string{"secret1"}, body["api_key"])
}

func TestPrepareRequest_CustomEndpoint(t *testing.T) {
	s := NewSender(Config{APIUser: "u", APIKey: "k", Endpoint: "http://localhost:1/api/mail.send.json"}, nil)
	t.Cleanup(func() { _ = s.Close() })

	req, err := s.PrepareRequest(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1/api/mail.send.json", req.URL)
}

func TestRequest_HTTPRequest(t *testing.T) {
	r := &Request{URL: DefaultEndpoint, Method: http.MethodPost, Body: "a=b"}

	req, err := r.HTTPRequest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "a=b", string(body))

	_, err = (&Request{URL: "://bad", Method: http.MethodPost}).HTTPRequest(context.Background())
	assert.Error(t, err)
}

func TestSendBlocking_StatusCode(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusCreated, false},
		{http.StatusBadRequest, false},
		{http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			doer, calls := stubDoer(tc.status, `{"message":"success"}`)
			s, logs := newTestSender(t, doer)

			ok, err := s.SendBlocking(context.Background(), validMessage())

			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, int32(1), calls.Load())
			assert.Contains(t, logs.String(), "SendGrid blocking API request response")
		})
	}
}

func TestSendBlocking_Rejected(t *testing.T) {
	doer, calls := stubDoer(http.StatusOK, `{"message":"success"}`)
	s, logs := newTestSender(t, doer)
	before := testutil.ToFloat64(sendTotal.WithLabelValues(modeBlocking, "rejected"))

	msg := validMessage()
	msg.To = nil
	ok, err := s.SendBlocking(context.Background(), msg)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, calls.Load(), "no HTTP call for a rejected message")
	assert.Contains(t, logs.String(), "missing required argument to")
	assert.Equal(t, before+1, testutil.ToFloat64(sendTotal.WithLabelValues(modeBlocking, "rejected")))
}

func TestSendBlocking_TransportErrorPropagates(t *testing.T) {
	transportErr := errors.New("connection reset")
	s, _ := newTestSender(t, doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, transportErr
	}))

	ok, err := s.SendBlocking(context.Background(), validMessage())

	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
}

func TestSendBlocking_LogsAPIErrors(t *testing.T) {
	doer, _ := stubDoer(http.StatusOK, `{"message":"error","errors":["Bad username / password"]}`)
	s, logs := newTestSender(t, doer)

	ok, err := s.SendBlocking(context.Background(), validMessage())

	require.NoError(t, err)
	assert.True(t, ok, "blocking result follows the status code")
	assert.Contains(t, logs.String(), "SendGrid API error")
	assert.Contains(t, logs.String(), "Bad username / password")
}

func TestSend_Outcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		outcome mail.Outcome
		errors  []string
		hasErr  bool
	}{
		{"success", http.StatusOK, `{"message":"success"}`, mail.OutcomeSuccess, nil, false},
		{"empty errors", http.StatusOK, `{"message":"success","errors":[]}`, mail.OutcomeSuccess, nil, false},
		{"api errors", http.StatusBadRequest, `{"message":"error","errors":["Missing destination email"]}`, mail.OutcomeFailure, []string{"Missing destination email"}, false},
		{"status is not consulted", http.StatusInternalServerError, `{"message":"success"}`, mail.OutcomeSuccess, nil, false},
		{"malformed body", http.StatusOK, `<html>oops</html>`, mail.OutcomeFailure, nil, true},
		{"null body", http.StatusOK, `null`, mail.OutcomeFailure, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doer, calls := stubDoer(tc.status, tc.body)
			s, _ := newTestSender(t, doer)

			done, err := s.Send(context.Background(), validMessage())
			require.NoError(t, err)

			res := waitResult(t, done)
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Equal(t, tc.errors, res.Errors)
			assert.Equal(t, tc.hasErr, res.Err != nil)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestSend_TransportError(t *testing.T) {
	s, logs := newTestSender(t, doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("no route to host")
	}))

	done, err := s.Send(context.Background(), validMessage())
	require.NoError(t, err)

	res := waitResult(t, done)
	assert.Equal(t, mail.OutcomeFailure, res.Outcome)
	assert.ErrorContains(t, res.Err, "no route to host")
	assert.Contains(t, logs.String(), "SendGrid HTTP error")
}

func TestSend_Rejected(t *testing.T) {
	doer, calls := stubDoer(http.StatusOK, `{"message":"success"}`)
	s, _ := newTestSender(t, doer)

	msg := validMessage()
	msg.Subject = ""
	done, err := s.Send(context.Background(), msg)

	assert.Nil(t, done)
	assert.ErrorIs(t, err, mail.ErrRejected)
	assert.Zero(t, calls.Load())
}

func TestSendFunc_CallbackCount(t *testing.T) {
	t.Run("exactly once when dispatched", func(t *testing.T) {
		doer, _ := stubDoer(http.StatusOK, `{"message":"success"}`)
		s, _ := newTestSender(t, doer)

		var count atomic.Int32
		err := s.SendFunc(context.Background(), validMessage(), func(res mail.Result) {
			count.Add(1)
			assert.True(t, res.OK())
		})
		require.NoError(t, err)

		require.NoError(t, s.Close())
		assert.Equal(t, int32(1), count.Load())
	})

	t.Run("never when rejected", func(t *testing.T) {
		doer, _ := stubDoer(http.StatusOK, `{"message":"success"}`)
		s, _ := newTestSender(t, doer)

		var count atomic.Int32
		err := s.SendFunc(context.Background(), mail.Message{}, func(mail.Result) { count.Add(1) })
		assert.ErrorIs(t, err, mail.ErrRejected)

		require.NoError(t, s.Close())
		assert.Zero(t, count.Load())
	})
}

func TestSender_Close(t *testing.T) {
	doer, calls := stubDoer(http.StatusOK, `{"message":"success"}`)
	s, _ := newTestSender(t, doer)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ok, err := s.SendBlocking(context.Background(), validMessage())
	assert.False(t, ok)
	assert.ErrorContains(t, err, "closed")

	done, err := s.Send(context.Background(), validMessage())
	assert.Nil(t, done)
	assert.ErrorContains(t, err, "closed")
	assert.Zero(t, calls.Load())
}

func TestSender_EndToEnd(t *testing.T) {
	var (
		mx       sync.Mutex
		received []url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/mail.send.json", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())

		mx.Lock()
		received = append(received, r.PostForm)
		mx.Unlock()

		if r.PostForm.Get("subject") == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"message":"error","errors":["internal"]}`)
			return
		}
		_, _ = io.WriteString(w, `{"message":"success"}`)
	}))
	defer srv.Close()

	s := NewSender(Config{APIUser: "user1", APIKey: "secret1", Endpoint: srv.URL + "/api/mail.send.json"}, &SenderOptions{
		Logger: slog.New(slog.DiscardHandler),
	})
	defer s.Close()

	ok, err := s.SendBlocking(context.Background(), validMessage())
	require.NoError(t, err)
	assert.True(t, ok)

	failing := validMessage()
	failing.Subject = "fail"
	ok, err = s.SendBlocking(context.Background(), failing)
	require.NoError(t, err)
	assert.False(t, ok)

	done, err := s.Send(context.Background(), failing)
	require.NoError(t, err)
	res := waitResult(t, done)
	assert.Equal(t, mail.OutcomeFailure, res.Outcome)
	assert.Equal(t, []string{"internal"}, res.Errors)

	mx.Lock()
	defer mx.Unlock()
	require.Len(t, received, 3)
	assert.Equal(t, "user1", received[0].Get("api_user"))
	assert.Equal(t, "secret1", received[0].Get("api_key"))
	assert.Equal(t, "a@example.com", received[0].Get("to"))
	assert.Equal(t, "hello", received[0].Get("text"))
}

func TestSender_ConcurrentSends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Echo the subject back so every caller can check its own request.
		w.Header().Set("X-Subject", r.PostForm.Get("subject"))
		if r.PostForm.Get("api_user") != "user1" || r.PostForm.Get("api_key") != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"message":"success"}`)
	}))
	defer srv.Close()

	s := NewSender(Config{APIUser: "user1", APIKey: "secret1", Endpoint: srv.URL}, &SenderOptions{
		Logger: slog.New(slog.DiscardHandler),
	})
	defer s.Close()

	const n = 20
	var wg sync.WaitGroup
	results := make(chan bool, 2*n)
	for i := range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			msg := validMessage()
			msg.Subject = fmt.Sprintf("blocking-%d", i)
			ok, err := s.SendBlocking(context.Background(), msg)
			results <- err == nil && ok
		}()
		go func() {
			defer wg.Done()
			msg := validMessage()
			msg.Subject = fmt.Sprintf("async-%d", i)
			done, err := s.Send(context.Background(), msg)
			if err != nil {
				results <- false
				return
			}
			results <- (<-done).OK()
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
}

package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pure-golang/sendgrid/kv"
	"github.com/pure-golang/sendgrid/kv/memory"
	"github.com/pure-golang/sendgrid/logger"
	"github.com/pure-golang/sendgrid/mail"
)

const (
	PathSend   = "/send"
	PathHealth = "/healthz"

	// MaxBodySize limits the size of a relayed form, attachments included.
	MaxBodySize = 20 << 20

	DefaultStatusTTL = 24 * time.Hour

	statusKeyPrefix = "dispatch:"
)

// Dispatch states reported by GET /send/{id}.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Response is the JSON body of every relay answer.
type Response struct {
	Message string   `json:"message"`
	ID      string   `json:"id,omitempty"`
	Status  string   `json:"status,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Handler exposes a mail.Sender over HTTP.
type Handler struct {
	sender    mail.Sender
	store     kv.Store
	statusTTL time.Duration
	mux       *http.ServeMux

	mx     sync.Mutex
	closed bool
	// pending tracks goroutines writing the final dispatch status.
	pending sync.WaitGroup
}

// HandlerOptions contains options for creating a Handler.
// Nil and zero fields are replaced with defaults.
type HandlerOptions struct {
	// Store keeps dispatch states, in-process by default.
	Store     kv.Store
	StatusTTL time.Duration
}

// NewHandler creates a new relay Handler.
func NewHandler(sender mail.Sender, options *HandlerOptions) *Handler {
	if options == nil {
		options = &HandlerOptions{}
	}

	h := &Handler{
		sender:    sender,
		store:     options.Store,
		statusTTL: options.StatusTTL,
		mux:       http.NewServeMux(),
	}
	if h.store == nil {
		h.store = memory.NewStore()
	}
	if h.statusTTL <= 0 {
		h.statusTTL = DefaultStatusTTL
	}

	h.mux.HandleFunc("POST "+PathSend, h.send)
	h.mux.HandleFunc("GET "+PathSend+"/{id}", h.status)
	h.mux.HandleFunc("GET "+PathHealth, h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logger.FromContextWithErr(r.Context(), err).Error("status store is unavailable")
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "error", Errors: []string{err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	raw, err := h.store.Get(ctx, statusKeyPrefix+id)
	if errors.Is(err, kv.ErrKeyNotFound) {
		writeJSON(w, http.StatusNotFound, Response{Message: "error", ID: id, Errors: []string{"unknown dispatch id"}})
		return
	}
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to read dispatch status")
		writeJSON(w, http.StatusInternalServerError, Response{Message: "error", Errors: []string{"failed to read dispatch status"}})
		return
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		logger.FromContextWithErr(ctx, err).Error("malformed dispatch status")
		writeJSON(w, http.StatusInternalServerError, Response{Message: "error", Errors: []string{"malformed dispatch status"}})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// saveStatus is best effort: delivery does not depend on it.
func (h *Handler) saveStatus(ctx context.Context, log *slog.Logger, resp Response) {
	raw, err := json.Marshal(resp)
	if err == nil {
		err = h.store.Set(ctx, statusKeyPrefix+resp.ID, string(raw), h.statusTTL)
	}
	if err != nil {
		logger.WithErr(log, err).Warn("failed to save dispatch status", "status", resp.Status)
	}
}

// send accepts a form encoded (or multipart) message.
// By default the message is dispatched and 202 is returned at once,
// with ?wait=true the call blocks until the provider answers.
func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	msg, err := parseMessage(w, r)
	if err != nil {
		logger.WithErr(log, err).WarnContext(ctx, "failed to parse relayed message")
		writeJSON(w, http.StatusBadRequest, Response{Message: "error", Errors: []string{err.Error()}})
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		h.sendBlocking(ctx, w, msg)
		return
	}

	h.dispatch(ctx, w, msg)
}

func (h *Handler) sendBlocking(ctx context.Context, w http.ResponseWriter, msg mail.Message) {
	log := logger.FromContext(ctx)

	if err := mail.Validate(msg); err != nil {
		writeRejection(w, err)
		return
	}

	ok, err := h.sender.SendBlocking(ctx, msg)
	if err != nil {
		logger.WithErr(log, err).ErrorContext(ctx, "blocking send failed")
		writeJSON(w, http.StatusBadGateway, Response{Message: "error", Errors: []string{err.Error()}})
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadGateway, Response{Message: "error", Errors: []string{"message was not accepted"}})
		return
	}

	writeJSON(w, http.StatusOK, Response{Message: "success"})
}

func (h *Handler) dispatch(ctx context.Context, w http.ResponseWriter, msg mail.Message) {
	if !h.track() {
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "error", Errors: []string{"relay is closed"}})
		return
	}

	id := uuid.NewString()
	log := logger.FromContext(ctx).With("dispatch_id", id)
	// The dispatched request outlives the handler.
	bg := context.WithoutCancel(ctx)

	done, err := h.sender.Send(bg, msg)
	if err != nil {
		h.pending.Done()
		if errors.Is(err, mail.ErrRejected) {
			writeRejection(w, err)
			return
		}
		logger.WithErr(log, err).ErrorContext(ctx, "failed to dispatch message")
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "error", Errors: []string{err.Error()}})
		return
	}

	pending := Response{Message: "accepted", ID: id, Status: StatusPending}
	h.saveStatus(ctx, log, pending)

	go func() {
		defer h.pending.Done()

		res := <-done
		final := Response{Message: "success", ID: id, Status: StatusSuccess}
		if res.OK() {
			log.Info("message delivered")
		} else {
			final = Response{Message: "error", ID: id, Status: StatusFailure, Errors: resultErrors(res)}
			logger.WithErr(log, res.Err).Error("message not delivered",
				"outcome", res.Outcome.String(),
				"errors", res.Errors,
			)
		}
		h.saveStatus(bg, log, final)
	}()

	writeJSON(w, http.StatusAccepted, pending)
}

// track registers a dispatch unless the handler is closed.
func (h *Handler) track() bool {
	h.mx.Lock()
	defer h.mx.Unlock()

	if h.closed {
		return false
	}
	h.pending.Add(1)
	return true
}

// Close stops accepting dispatches and waits until every final dispatch
// status is written. Close the sender first so the results arrive.
func (h *Handler) Close() error {
	h.mx.Lock()
	h.closed = true
	h.mx.Unlock()

	h.pending.Wait()
	return nil
}

func resultErrors(res mail.Result) []string {
	if len(res.Errors) > 0 {
		return res.Errors
	}
	if res.Err != nil {
		return []string{res.Err.Error()}
	}
	return []string{res.Outcome.String()}
}

func parseMessage(w http.ResponseWriter, r *http.Request) (mail.Message, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	if err := r.ParseMultipartForm(MaxBodySize); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return mail.Message{}, errors.Wrap(err, "failed to parse multipart form")
		}
		if err := r.ParseForm(); err != nil {
			return mail.Message{}, errors.Wrap(err, "failed to parse form")
		}
	}

	msg := mail.MessageFromValues(r.PostForm)
	if r.MultipartForm == nil {
		return msg, nil
	}

	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			content, err := readFile(fh)
			if err != nil {
				return mail.Message{}, err
			}
			if msg.Files == nil {
				msg.Files = make(map[string][]byte)
			}
			msg.Files[fh.Filename] = content
		}
	}

	return msg, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open attachment %q", fh.Filename)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read attachment %q", fh.Filename)
	}
	return content, nil
}

func writeRejection(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, Response{Message: "error", Errors: []string{err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Default().Error("failed to write response", "error", err.Error())
	}
}

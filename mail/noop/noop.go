package noop

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/pure-golang/sendgrid/mail"
)

var _ mail.Sender = (*Sender)(nil)

// Sender accepts every message without sending it. Useful in tests.
type Sender struct {
	mx     sync.Mutex
	sent   []mail.Message
	closed bool
}

// NewSender creates a new no-op Sender.
func NewSender() *Sender {
	return &Sender{}
}

// SendBlocking records the message and reports success.
func (n *Sender) SendBlocking(_ context.Context, msg mail.Message) (bool, error) {
	if err := n.record(msg); err != nil {
		return false, err
	}
	return true, nil
}

// Send records the message and delivers a successful Result.
func (n *Sender) Send(_ context.Context, msg mail.Message) (<-chan mail.Result, error) {
	if err := n.record(msg); err != nil {
		return nil, err
	}

	done := make(chan mail.Result, 1)
	done <- mail.Result{Outcome: mail.OutcomeSuccess}
	close(done)
	return done, nil
}

// Sent returns the messages recorded so far.
func (n *Sender) Sent() []mail.Message {
	n.mx.Lock()
	defer n.mx.Unlock()

	out := make([]mail.Message, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *Sender) record(msg mail.Message) error {
	n.mx.Lock()
	defer n.mx.Unlock()

	if n.closed {
		return errors.New("sender is closed")
	}
	n.sent = append(n.sent, msg)
	return nil
}

// Close is idempotent.
func (n *Sender) Close() error {
	n.mx.Lock()
	defer n.mx.Unlock()

	n.closed = true
	return nil
}

package mail

import (
	"context"
	"io"
	"net/url"
	"sort"
)

// BlockingSender sends a message and waits for the provider's answer.
type BlockingSender interface {
	SendBlocking(ctx context.Context, msg Message) (bool, error)
}

// AsyncSender dispatches a message and delivers exactly one Result later.
type AsyncSender interface {
	Send(ctx context.Context, msg Message) (<-chan Result, error)
}

// Sender sends emails through a transactional mail API.
type Sender interface {
	BlockingSender
	AsyncSender
	io.Closer
}

// Field names understood by the mail API.
const (
	FieldTo       = "to"
	FieldToName   = "toname"
	FieldSubject  = "subject"
	FieldFrom     = "from"
	FieldFromName = "fromname"
	FieldReplyTo  = "replyto"
	FieldDate     = "date"
	FieldSMTPAPI  = "x-smtpapi"
	FieldText     = "text"
	FieldHTML     = "html"
	FieldFiles    = "files"
)

// Message represents an email message.
// A field is present when it is not empty.
type Message struct {
	// Envelope
	To       []string
	ToName   []string
	Subject  string
	From     string
	FromName string
	ReplyTo  string
	Date     string // RFC 2822

	// SMTPAPI is the raw X-SMTPAPI JSON header.
	SMTPAPI string

	// Body, at least one of them is required
	Text string
	HTML string

	// Files maps attachment file name to its content.
	Files map[string][]byte

	// Extra fields are passed to the API as is, without validation.
	// Every value of a multi-valued field (e.g. "bcc[]") is kept.
	Extra url.Values
}

// Fields returns all present fields of the message as form values.
func (m Message) Fields() url.Values {
	v := url.Values{}

	addList(v, FieldTo, m.To)
	addList(v, FieldToName, m.ToName)
	addString(v, FieldSubject, m.Subject)
	addString(v, FieldFrom, m.From)
	addString(v, FieldFromName, m.FromName)
	addString(v, FieldReplyTo, m.ReplyTo)
	addString(v, FieldDate, m.Date)
	addString(v, FieldSMTPAPI, m.SMTPAPI)
	addString(v, FieldText, m.Text)
	addString(v, FieldHTML, m.HTML)

	for name, content := range m.Files {
		v.Set(FieldFiles+"["+name+"]", string(content))
	}
	for k, vals := range m.Extra {
		if _, ok := v[k]; ok {
			continue
		}
		if vals = nonEmpty(vals); len(vals) > 0 {
			v[k] = vals
		}
	}

	return v
}

// Has reports whether the named field is present in the message.
func (m Message) Has(field string) bool {
	switch field {
	case FieldTo:
		return len(nonEmpty(m.To)) > 0
	case FieldToName:
		return len(nonEmpty(m.ToName)) > 0
	case FieldSubject:
		return m.Subject != ""
	case FieldFrom:
		return m.From != ""
	case FieldFromName:
		return m.FromName != ""
	case FieldReplyTo:
		return m.ReplyTo != ""
	case FieldDate:
		return m.Date != ""
	case FieldSMTPAPI:
		return m.SMTPAPI != ""
	case FieldText:
		return m.Text != ""
	case FieldHTML:
		return m.HTML != ""
	case FieldFiles:
		return len(m.Files) > 0
	default:
		return len(nonEmpty(m.Extra[field])) > 0
	}
}

// MessageFromValues maps a flat field bag onto a Message.
// Unknown keys are kept in Extra.
func MessageFromValues(values url.Values) Message {
	var m Message

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		vals := values[k]
		if len(vals) == 0 {
			continue
		}
		first := vals[0]

		switch k {
		case FieldTo, FieldTo + "[]":
			m.To = append(m.To, nonEmpty(vals)...)
		case FieldToName, FieldToName + "[]":
			m.ToName = append(m.ToName, nonEmpty(vals)...)
		case FieldSubject:
			m.Subject = first
		case FieldFrom:
			m.From = first
		case FieldFromName:
			m.FromName = first
		case FieldReplyTo:
			m.ReplyTo = first
		case FieldDate:
			m.Date = first
		case FieldSMTPAPI:
			m.SMTPAPI = first
		case FieldText:
			m.Text = first
		case FieldHTML:
			m.HTML = first
		default:
			if name, ok := fileName(k); ok {
				if m.Files == nil {
					m.Files = make(map[string][]byte)
				}
				m.Files[name] = []byte(first)
				continue
			}
			if m.Extra == nil {
				m.Extra = url.Values{}
			}
			m.Extra[k] = append([]string(nil), vals...)
		}
	}

	return m
}

// fileName extracts the attachment name from a "files[name]" key.
func fileName(key string) (string, bool) {
	prefix := FieldFiles + "["
	if len(key) <= len(prefix)+1 || key[:len(prefix)] != prefix || key[len(key)-1] != ']' {
		return "", false
	}
	return key[len(prefix) : len(key)-1], true
}

func addString(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}

// addList uses the plain key for one value and the "key[]" form for several.
func addList(v url.Values, key string, vals []string) {
	vals = nonEmpty(vals)
	switch len(vals) {
	case 0:
	case 1:
		v.Set(key, vals[0])
	default:
		v[key+"[]"] = vals
	}
}

func nonEmpty(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, s := range vals {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

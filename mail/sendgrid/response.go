package sendgrid

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// apiResponse is the body of mail.send.json, e.g.
// {"message":"success"} or {"message":"error","errors":["..."]}.
type apiResponse struct {
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
}

func parseResponse(body []byte) (*apiResponse, error) {
	var resp *apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode SendGrid response")
	}
	if resp == nil {
		return nil, errors.New("SendGrid response is not an object")
	}
	return resp, nil
}

// errorMessages returns the reported API errors.
// Any non-empty "errors" value counts, an array yields one message per item.
func (r *apiResponse) errorMessages() []string {
	raw := bytes.TrimSpace(r.Errors)
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []string{string(raw)}
	}

	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringify(item))
		}
		return out
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
		return []string{string(raw)}
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case bool:
		if !val {
			return nil
		}
		return []string{string(raw)}
	case float64:
		if val == 0 {
			return nil
		}
		return []string{string(raw)}
	default:
		return []string{string(raw)}
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

package httpclient

import (
	"io"
	"net/http"
)

// Doer performs an HTTP request and blocks until the response arrives.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is what an AsyncDoer hands to its completion.
// Body is nil when the request could not be completed, Err explains why.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

// AsyncDoer performs an HTTP request without blocking the caller.
// done is invoked exactly once, from a goroutine owned by the AsyncDoer.
type AsyncDoer interface {
	DoAsync(req *http.Request, done func(Response))
	io.Closer
}

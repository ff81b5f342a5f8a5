package httpserver

import "io"

// Provider is a server that blocks in Start until it is closed.
type Provider interface {
	Start() error
	io.Closer
}

// Runner starts the server in background.
type Runner interface {
	Run()
}

type RunableProvider interface {
	Provider
	Runner
}

package core

import (
	"context"
	"io"
	"time"
)

// ObjectStore is any service that can durably store uploaded binaries and
// serve them back over HTTP.
type ObjectStore interface {
	// Upload stores content under path and returns the public URL of the
	// stored object.
	Upload(ctx context.Context, path string, content io.Reader, contentType string) (string, error)
	PublicURL(path string) string
}

// Ticker abstracts time.Ticker so tests can drive timer-driven components
// deterministically.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is the time source used by timer-driven components.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type (
	realClock  struct{}
	realTicker struct{ *time.Ticker }
)

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// NewClock returns a Clock backed by the system time.
func NewClock() Clock { return realClock{} }

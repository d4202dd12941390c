package push

import (
	"context"
	"fmt"
)

// Result of delivering one payload.
type Result struct {
	// HTTP status for HTTP based sinks, 0 when no response was received.
	Code int
	Success bool
	Err error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("failed(code=%d,%v)", r.Code, r.Err)
	}

	return fmt.Sprintf("ok(code=%d)", r.Code)
}

// Sink delivers rendered payloads to one endpoint.
type Sink interface {
	Name() string
	Template() Template
	Send(ctx context.Context, payload string) Result
}

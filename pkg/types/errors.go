package types

import "fmt"

// TransportError covers network failures, timeouts and non-2xx feed
// responses. Recoverable: the affected stop keeps its previous state
// and the fetch is retried on the next cycle.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError covers structurally invalid feed payloads (non-JSON or
// JSON whose root is not an object). Recoverable in the same way as
// TransportError.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

package tts

import (
	"errors"
	"fmt"
)

// Kind classifies synthesis failures.
type Kind int

const (
	// KindUnexpected covers transport, decoding and local failures.
	KindUnexpected Kind = iota
	// KindAuthOrClient means the service rejected the call.
	KindAuthOrClient
)

func (k Kind) String() string {
	switch k {
	case KindAuthOrClient:
		return "auth_or_client"
	default:
		return "unexpected"
	}
}

// Error is returned by Synthesizer implementations.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, KindUnexpected when err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnexpected
}

func clientError(op string, err error) error {
	return &Error{Kind: KindAuthOrClient, Op: op, Message: err.Error(), Err: err}
}

func unexpectedError(op string, err error) error {
	return &Error{Kind: KindUnexpected, Op: op, Err: err}
}

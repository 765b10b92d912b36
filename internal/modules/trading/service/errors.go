package service

import (
	"errors"
	"fmt"

	ledger "paper_ledger/internal/modules/ledger/service"
)

// Kind classifies a failed operation for the calling layer.
type Kind string

const (
	KindValidation = Kind("validation")
	KindQuote      = Kind("quote_unavailable")
	KindNotFound   = Kind("not_found")
	KindStore      = Kind("store")
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, KindStore for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

func invalid(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func quoteErr(op string, err error) error {
	return &Error{Kind: KindQuote, Op: op, Err: err}
}

func storeErr(op string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	}
	return &Error{Kind: KindStore, Op: op, Err: err}
}

func notFound(op, positionID string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("position %s: %w", positionID, ledger.ErrNotFound)}
}

// Response is the {success, error, data} shape handed to a calling layer.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Envelope(data any, err error) Response {
	if err != nil {
		return Response{Error: err.Error(), Kind: KindOf(err)}
	}
	return Response{Success: true, Data: data}
}

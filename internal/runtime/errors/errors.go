package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrBrokerURLRequired   = sterrors.New("predictflow: broker url is required")
	ErrQueueRequired       = sterrors.New("predictflow: queue name is required")
	ErrScorerRequired      = sterrors.New("predictflow: scorer is required")
	ErrBrokerRequired      = sterrors.New("predictflow: broker is required")
	ErrLoggerRequired      = sterrors.New("predictflow: logger is required")
	ErrConfigRequired      = sterrors.New("predictflow: configuration is required")
	ErrReplyTargetMissing  = sterrors.New("predictflow: no reply destination for delivery")
	ErrLengthMismatch      = sterrors.New("predictflow: scorer returned a mismatched number of predictions")
	ErrTicketIDMissing     = sterrors.New("predictflow: ticketId is required")
	ErrTicketsMissing      = sterrors.New("predictflow: tickets array is required")
	ErrDeliveriesClosed    = sterrors.New("predictflow: delivery channel closed")
	ErrClientClosed        = sterrors.New("predictflow: client is closed")
	ErrNonFinitePrediction = sterrors.New("predictflow: scorer returned a non-finite prediction")
)

// Kind is the closed set of failure classes the worker distinguishes.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindConfig     Kind = "config"
	KindConnection Kind = "connection"
	KindDecode     Kind = "decode"
	KindScoring    Kind = "scoring"
	KindPublish    Kind = "publish"
)

// Kind sentinels. errors.Is(err, ErrDecode) reports whether err is a decode failure.
var (
	ErrConfig     = sterrors.New("predictflow: configuration error")
	ErrConnection = sterrors.New("predictflow: connection error")
	ErrDecode     = sterrors.New("predictflow: decode error")
	ErrScoring    = sterrors.New("predictflow: scoring error")
	ErrPublish    = sterrors.New("predictflow: publish error")
)

var kindSentinels = map[Kind]error{
	KindConfig:     ErrConfig,
	KindConnection: ErrConnection,
	KindDecode:     ErrDecode,
	KindScoring:    ErrScoring,
	KindPublish:    ErrPublish,
}

// Error carries a failure Kind together with the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("predictflow: %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("predictflow: %s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		err = kindSentinels[kind]
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) error     { return newError(KindConfig, op, err) }
func Connection(op string, err error) error { return newError(KindConnection, op, err) }
func Decode(op string, err error) error     { return newError(KindDecode, op, err) }
func Scoring(op string, err error) error    { return newError(KindScoring, op, err) }
func Publish(op string, err error) error    { return newError(KindPublish, op, err) }

// KindOf returns the Kind of the outermost *Error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if sterrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrap attaches kind to err unless err already carries one.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return newError(kind, op, err)
}

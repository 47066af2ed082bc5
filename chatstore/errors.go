package chatstore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors surfaced to the conversation UI.
// The numeric values are sent to clients as error codes.
type ErrorKind int

const (
	InvalidAddress    ErrorKind = 1
	EmptyMessage      ErrorKind = 2
	MessageTooLong    ErrorKind = 3
	HistoryLoad       ErrorKind = 4
	Transaction       ErrorKind = 5
	UserRejected      ErrorKind = 6
	WrongNetwork      ErrorKind = 7
	WalletUnavailable ErrorKind = 8
)

var kindNames = map[ErrorKind]string{
	InvalidAddress:    "invalid address",
	EmptyMessage:      "empty message",
	MessageTooLong:    "message too long",
	HistoryLoad:       "history load failed",
	Transaction:       "transaction failed",
	UserRejected:      "rejected by user",
	WrongNetwork:      "wrong network",
	WalletUnavailable: "wallet unavailable",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error carries a kind and the underlying cause from the collaborator that failed.
type Error struct {
	Kind  ErrorKind
	Cause error
}

// Sentinels for errors.Is; an *Error matches a sentinel of the same kind.
var (
	ErrInvalidAddress    = &Error{Kind: InvalidAddress}
	ErrEmptyMessage      = &Error{Kind: EmptyMessage}
	ErrMessageTooLong    = &Error{Kind: MessageTooLong}
	ErrHistoryLoad       = &Error{Kind: HistoryLoad}
	ErrTransaction       = &Error{Kind: Transaction}
	ErrUserRejected      = &Error{Kind: UserRejected}
	ErrWrongNetwork      = &Error{Kind: WrongNetwork}
	ErrWalletUnavailable = &Error{Kind: WalletUnavailable}
)

// Wrap returns an *Error of the given kind. A cause that already is an *Error is returned
// unchanged so that the innermost classification wins.
func Wrap(kind ErrorKind, cause error) error {
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or 0 if err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserMessage renders err as the single line shown in the error banner.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case InvalidAddress:
		return "Invalid recipient address"
	case EmptyMessage:
		return "Please enter a message"
	case MessageTooLong:
		return fmt.Sprintf("Message exceeds %d characters", MaxContentRunes)
	case UserRejected:
		return "Transaction rejected by user"
	case WrongNetwork:
		return "Please switch the wallet to the configured network"
	case WalletUnavailable:
		return "Wallet is not available: " + causeText(err)
	case HistoryLoad:
		return "Failed to load messages: " + causeText(err)
	case Transaction:
		return "Failed to send message: " + causeText(err)
	default:
		return err.Error()
	}
}

func causeText(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Cause != nil {
		return e.Cause.Error()
	}
	return err.Error()
}

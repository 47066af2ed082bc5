package wallet

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrDeclined is returned by an Approver that refuses a request.
var ErrDeclined = errors.New("request declined")

type RequestKind int

const (
	RequestConnect RequestKind = iota + 1
	RequestTransaction
)

func (k RequestKind) String() string {
	switch k {
	case RequestConnect:
		return "connect"
	case RequestTransaction:
		return "transaction"
	}
	return "unknown"
}

func (k RequestKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Request asks the user to allow a wallet action.
type Request struct {
	Kind    RequestKind
	Account common.Address

	// transaction only.
	To      common.Address
	Content string
}

// Approver decides on wallet requests, the way a wallet extension prompts its user.
// Approve returns nil to allow the request.
type Approver interface {
	Approve(ctx context.Context, req *Request) error
}

// AutoApprover allows every request.
type AutoApprover struct{}

func (AutoApprover) Approve(context.Context, *Request) error {
	return nil
}

type ApproverFunc func(ctx context.Context, req *Request) error

func (f ApproverFunc) Approve(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/phan-manh-dung/dechat/chatstore"
)

//go:generate mockgen -destination=mock/contract.go -package=mock_chain github.com/phan-manh-dung/dechat/chain Contract,Subscription

const (
	// DefaultChainID is the Sepolia test network.
	DefaultChainID = 11155111

	explorerTxURL = "https://sepolia.etherscan.io/tx/%s"
)

// PendingTx is the handle of a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash common.Hash

	// opaque to callers, consumed by AwaitConfirmation.
	tx interface{}
}

// Subscription is a live event subscription. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Contract is the signer-bound handle to the ledger contract.
type Contract interface {
	// ReadMessages returns all messages exchanged between the bound account and peer,
	// in contract order.
	ReadMessages(ctx context.Context, peer common.Address) ([]chatstore.Record, error)

	// SendMessage submits the transaction and returns as soon as it is broadcast.
	SendMessage(ctx context.Context, to common.Address, content string) (*PendingTx, error)

	// AwaitConfirmation blocks until the transaction is mined; a reverted transaction is an error.
	AwaitConfirmation(ctx context.Context, tx *PendingTx) error

	// Subscribe delivers every MessageSent event of the contract, unfiltered, to handler.
	Subscribe(ctx context.Context, handler func(*chatstore.Event)) (Subscription, error)
}

// TxURL returns the block explorer link of a transaction.
func TxURL(hash common.Hash) string {
	return fmt.Sprintf(explorerTxURL, hash.Hex())
}

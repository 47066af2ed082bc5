package store

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

//go:generate mockgen -destination=mock/contacts.go -package=store_mock github.com/phan-manh-dung/dechat/store IContactStore

// Contact is a recipient an account has opened a conversation with.
type Contact struct {
	Address  common.Address `json:"address"`
	Short    string         `json:"short"`
	LastSeen time.Time      `json:"last_seen"`
}

// IContactStore keeps per account recent contacts. It never stores message content.
type IContactStore interface {
	// Touch records that account viewed the conversation with recipient at t.
	// recipient also becomes the last active recipient of account.
	Touch(account, recipient common.Address, t time.Time) error

	// Recent returns up to limit contacts of account, most recently viewed first.
	Recent(account common.Address, limit int) ([]Contact, error)

	// LastRecipient returns the last active recipient of account.
	LastRecipient(account common.Address) (common.Address, bool, error)

	// Forget removes recipient from the contacts of account.
	Forget(account, recipient common.Address) error
}

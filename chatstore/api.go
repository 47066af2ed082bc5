package chatstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxContentRunes is the input cap of the conversation UI.
const MaxContentRunes = 1000

var hexAddressRe = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{40}$`)

// Record is one message as returned by the contract read.
type Record struct {
	Sender    common.Address
	Content   string
	Timestamp int64
}

// Event is one `MessageSent` log as delivered by the chain subscription.
type Event struct {
	From      common.Address
	To        common.Address
	Content   string
	Timestamp int64

	// TxHash and Block are informational only.
	TxHash common.Hash
	Block  uint64
}

// Message is an observed message of the active conversation.
type Message struct {
	ID        string         `json:"id"` // UI keying only, never part of Key.
	Sender    common.Address `json:"sender"`
	Content   string         `json:"content"`
	Timestamp int64          `json:"timestamp"`
	IsMine    bool           `json:"is_mine"`
}

// Key is the dedup key of a message.
type Key struct {
	Sender    common.Address
	Content   string
	Timestamp int64
}

func (m *Message) Key() Key {
	return Key{Sender: m.Sender, Content: m.Content, Timestamp: m.Timestamp}
}

func (e *Event) Key() Key {
	return Key{Sender: e.From, Content: e.Content, Timestamp: e.Timestamp}
}

func (e *Event) String() string {
	return fmt.Sprintf("%s->%s@%d", e.From.Hex(), e.To.Hex(), e.Timestamp)
}

// ParseAddress validates s the way wallets do: 40 hex digits with an optional `0x` prefix; when
// the digits are mixed-case they must carry a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !hexAddressRe.MatchString(s) {
		return common.Address{}, &Error{Kind: InvalidAddress, Cause: fmt.Errorf("malformed address `%s`", s)}
	}
	digits := strings.TrimPrefix(s, "0x")
	addr := common.HexToAddress(digits)
	if digits != strings.ToLower(digits) && digits != strings.ToUpper(digits) {
		if addr.Hex()[2:] != digits {
			return common.Address{}, &Error{Kind: InvalidAddress, Cause: fmt.Errorf("bad checksum for `%s`", s)}
		}
	}
	return addr, nil
}

// SamePair reports whether {a, b} equals {x, y} as an unordered pair.
func SamePair(a, b, x, y common.Address) bool {
	return (a == x && b == y) || (a == y && b == x)
}

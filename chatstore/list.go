package chatstore

import (
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pborman/uuid"
)

// List is the ordered, duplicate free message list of one conversation.
// It is not safe for concurrent use; the owner serializes access.
type List struct {
	account common.Address
	msgs    []Message
	keys    map[Key]struct{}
}

func NewList(account common.Address) *List {
	return &List{
		account: account,
		keys:    make(map[Key]struct{}),
	}
}

// Replace drops all messages and loads records in the given order.
// Duplicate records within the batch collapse to their first occurrence.
func (l *List) Replace(records []Record) {
	l.msgs = make([]Message, 0, len(records))
	l.keys = make(map[Key]struct{}, len(records))
	for _, r := range records {
		l.add(r.Sender, r.Content, r.Timestamp)
	}
}

// Append adds the event unless its key is already present. It reports whether it was added.
func (l *List) Append(e *Event) bool {
	return l.add(e.From, e.Content, e.Timestamp)
}

func (l *List) add(sender common.Address, content string, ts int64) bool {
	k := Key{Sender: sender, Content: content, Timestamp: ts}
	if _, ok := l.keys[k]; ok {
		return false
	}
	l.keys[k] = struct{}{}
	l.msgs = append(l.msgs, Message{
		ID:        strings.ReplaceAll(uuid.New(), "-", ""),
		Sender:    sender,
		Content:   content,
		Timestamp: ts,
		IsMine:    sender == l.account,
	})
	return true
}

func (l *List) Clear() {
	l.msgs = nil
	l.keys = make(map[Key]struct{})
}

func (l *List) Len() int {
	return len(l.msgs)
}

// Snapshot returns a copy of the messages in arrival order.
func (l *List) Snapshot() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Chronological returns a copy of msgs stably sorted by ledger timestamp.
func Chronological(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// ShortAddress renders addr as `0x1234...abcd`.
func ShortAddress(addr common.Address) string {
	s := addr.Hex()
	return s[:6] + "..." + s[len(s)-4:]
}

// FormatTimestamp renders ledger seconds as `15:04:05 2/1/2006` in loc (local time if nil).
func FormatTimestamp(ts int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(ts, 0).In(loc).Format("15:04:05 2/1/2006")
}

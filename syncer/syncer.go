package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"

	"github.com/phan-manh-dung/dechat/chain"
	"github.com/phan-manh-dung/dechat/chatstore"
	"github.com/phan-manh-dung/dechat/metrics"
)

// State of a conversation view.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
)

var stateNames = [...]string{"uninitialized", "loading", "ready", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// View is a point in time snapshot of the conversation.
type View struct {
	Account   common.Address      `json:"account"`
	Recipient *common.Address     `json:"recipient,omitempty"`
	Messages  []chatstore.Message `json:"messages"`
	State     State               `json:"state"`
	Loading   bool                `json:"loading"`
	Error     string              `json:"error,omitempty"`
	ErrorCode int                 `json:"error_code,omitempty"`
	PendingTx string              `json:"pending_tx,omitempty"`
}

// Synchronizer keeps the message list of one (account, recipient) conversation in sync with
// the contract: a bulk history read reconciled with the live MessageSent stream.
//
// The list is replaced by history reads and appended to by live events. A read that was
// superseded by a later one (for the same or another recipient) is discarded when it resolves.
// Live events that arrive while a read is in flight are queued and merged after it.
type Synchronizer struct {
	mu sync.Mutex

	// lifetime of live subscriptions.
	ctx      context.Context
	contract chain.Contract
	account  common.Address

	recipient    common.Address
	hasRecipient bool

	list    *chatstore.List
	state   State
	lastErr error
	queued  []*chatstore.Event
	pending []common.Hash

	// loadGen identifies the authoritative history read.
	loadGen uint64
	// subGen identifies the live subscription of the current recipient.
	subGen uint64
	sub    chain.Subscription

	closed bool

	notifyMu sync.Mutex
	onChange func(View)
}

// New creates a synchronizer for account. Live subscriptions are bound to ctx.
func New(ctx context.Context, contract chain.Contract, account common.Address) *Synchronizer {
	return &Synchronizer{
		ctx:      ctx,
		contract: contract,
		account:  account,
		list:     chatstore.NewList(account),
	}
}

// OnChange registers fn to receive a snapshot after every visible change.
// Calls are serialized; fn must not call back into mutating methods.
func (s *Synchronizer) OnChange(fn func(View)) {
	s.notifyMu.Lock()
	s.onChange = fn
	s.notifyMu.Unlock()
}

func (s *Synchronizer) Account() common.Address {
	return s.account
}

// Recipient returns the active counterparty, if any.
func (s *Synchronizer) Recipient() (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipient, s.hasRecipient
}

func (s *Synchronizer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Synchronizer) viewLocked() View {
	v := View{
		Account:  s.account,
		Messages: s.list.Snapshot(),
		State:    s.state,
		Loading:  s.state == Loading,
	}
	if s.hasRecipient {
		r := s.recipient
		v.Recipient = &r
	}
	if s.lastErr != nil {
		v.Error = chatstore.UserMessage(s.lastErr)
		v.ErrorCode = int(chatstore.KindOf(s.lastErr))
	}
	if n := len(s.pending); n > 0 {
		v.PendingTx = s.pending[n-1].Hex()
	}
	return v
}

func (s *Synchronizer) changed() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.onChange != nil {
		s.onChange(s.View())
	}
}

// LoadHistory makes recipient the active conversation and reloads its history from the chain.
// Selecting a different recipient discards the current list and live subscription.
// It is a no-op once the synchronizer is closed.
func (s *Synchronizer) LoadHistory(ctx context.Context, recipient string) error {
	peer, err := chatstore.ParseAddress(recipient)
	if err != nil {
		return err
	}
	return s.load(ctx, peer)
}

// Refresh reloads the history of the active recipient; no-op without one.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	peer, ok := s.recipient, s.hasRecipient
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.load(ctx, peer)
}

func (s *Synchronizer) load(ctx context.Context, peer common.Address) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	var (
		oldSub   chain.Subscription
		switched bool
		subGen   uint64
	)
	if !s.hasRecipient || s.recipient != peer {
		oldSub = s.sub
		s.sub = nil
		s.subGen++
		subGen = s.subGen
		s.recipient = peer
		s.hasRecipient = true
		s.list.Clear()
		s.queued = nil
		switched = true
		glog.V(1).Infof("syncer: %s switched conversation to %s", s.account.Hex(), peer.Hex())
	}

	s.loadGen++
	gen := s.loadGen
	s.state = Loading
	s.lastErr = nil
	s.mu.Unlock()

	s.changed()

	if switched {
		if oldSub != nil {
			oldSub.Unsubscribe()
		}
		s.subscribe(subGen)
	}

	start := time.Now()
	records, err := s.contract.ReadMessages(ctx, peer)
	metrics.HistoryLoadDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	if s.closed || gen != s.loadGen {
		s.mu.Unlock()
		metrics.HistoryLoads.WithLabelValues("superseded").Inc()
		glog.V(5).Infof("syncer: discard superseded history load #%d for %s", gen, peer.Hex())
		return nil
	}

	if err != nil {
		s.state = Failed
		s.lastErr = chatstore.Wrap(chatstore.HistoryLoad, err)
		// the list still belongs to this recipient, keep what the live stream delivered.
		s.flushQueuedLocked()
		loadErr := s.lastErr
		s.mu.Unlock()

		metrics.HistoryLoads.WithLabelValues("error").Inc()
		glog.Errorf("syncer: load history with %s error: %v", peer.Hex(), err)
		s.changed()
		return loadErr
	}

	s.list.Replace(records)
	s.flushQueuedLocked()
	s.state = Ready
	n := s.list.Len()
	s.mu.Unlock()

	metrics.HistoryLoads.WithLabelValues("ok").Inc()
	glog.V(5).Infof("syncer: loaded %d messages with %s, %d in view", len(records), peer.Hex(), n)
	s.changed()
	return nil
}

func (s *Synchronizer) flushQueuedLocked() {
	for _, e := range s.queued {
		if s.list.Append(e) {
			metrics.LiveEvents.WithLabelValues("appended").Inc()
		} else {
			metrics.LiveEvents.WithLabelValues("duplicate").Inc()
		}
	}
	s.queued = nil
}

func (s *Synchronizer) subscribe(gen uint64) {
	sub, err := s.contract.Subscribe(s.ctx, func(e *chatstore.Event) {
		s.deliver(gen, e)
	})
	if err != nil {
		// history reads still work, the view just won't update live.
		glog.Errorf("syncer: subscribe live events error: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed || gen != s.subGen {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

func (s *Synchronizer) deliver(gen uint64, e *chatstore.Event) {
	s.mu.Lock()
	if gen != s.subGen {
		s.mu.Unlock()
		metrics.LiveEvents.WithLabelValues("stale").Inc()
		glog.V(5).Infof("syncer: drop event of stale subscription: %s", e)
		return
	}
	changed := s.applyEventLocked(e)
	s.mu.Unlock()

	if changed {
		s.changed()
	}
}

// OnLiveEvent merges one MessageSent event into the view. Events outside the active
// conversation and duplicates are dropped silently. Safe for concurrent use.
func (s *Synchronizer) OnLiveEvent(e *chatstore.Event) {
	s.mu.Lock()
	changed := s.applyEventLocked(e)
	s.mu.Unlock()

	if changed {
		s.changed()
	}
}

func (s *Synchronizer) applyEventLocked(e *chatstore.Event) bool {
	if s.closed || !s.hasRecipient || !chatstore.SamePair(e.From, e.To, s.account, s.recipient) {
		metrics.LiveEvents.WithLabelValues("irrelevant").Inc()
		return false
	}

	if s.state == Loading {
		s.queued = append(s.queued, e)
		metrics.LiveEvents.WithLabelValues("queued").Inc()
		glog.V(5).Infof("syncer: queue event while loading: %s", e)
		return false
	}

	if !s.list.Append(e) {
		metrics.LiveEvents.WithLabelValues("duplicate").Inc()
		glog.V(5).Infof("syncer: drop duplicate event: %s", e)
		return false
	}
	metrics.LiveEvents.WithLabelValues("appended").Inc()
	glog.V(5).Infof("syncer: append event: %s", e)
	return true
}

// SubmitMessage sends content to recipient and waits for the transaction to be mined.
// On success the active conversation is reloaded if it still is recipient's.
// The returned hash is empty when nothing was submitted.
func (s *Synchronizer) SubmitMessage(ctx context.Context, recipient, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		metrics.Sends.WithLabelValues("invalid").Inc()
		return "", &chatstore.Error{Kind: chatstore.EmptyMessage}
	}
	if utf8.RuneCountInString(content) > chatstore.MaxContentRunes {
		metrics.Sends.WithLabelValues("invalid").Inc()
		return "", &chatstore.Error{Kind: chatstore.MessageTooLong}
	}
	peer, err := chatstore.ParseAddress(recipient)
	if err != nil {
		metrics.Sends.WithLabelValues("invalid").Inc()
		return "", err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", &chatstore.Error{Kind: chatstore.WalletUnavailable}
	}

	pending, err := s.contract.SendMessage(ctx, peer, content)
	if err != nil {
		return "", s.sendFailed(peer, err)
	}
	hash := pending.Hash

	s.mu.Lock()
	s.pending = append(s.pending, hash)
	s.mu.Unlock()
	s.changed()

	defer func() {
		s.mu.Lock()
		for i, h := range s.pending {
			if h == hash {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		s.changed()
	}()

	if err := s.contract.AwaitConfirmation(ctx, pending); err != nil {
		return hash.Hex(), s.sendFailed(peer, err)
	}
	metrics.Sends.WithLabelValues("ok").Inc()
	glog.V(1).Infof("syncer: message to %s confirmed, tx: %s", peer.Hex(), hash.Hex())

	if active, ok := s.Recipient(); ok && active == peer {
		// a reload failure is reported through the view.
		_ = s.load(ctx, peer)
	}
	return hash.Hex(), nil
}

func (s *Synchronizer) sendFailed(peer common.Address, err error) error {
	err = chatstore.Wrap(chatstore.Transaction, err)
	if chatstore.KindOf(err) == chatstore.UserRejected {
		metrics.Sends.WithLabelValues("rejected").Inc()
		glog.V(1).Infof("syncer: send to %s rejected by user", peer.Hex())
	} else {
		metrics.Sends.WithLabelValues("error").Inc()
		glog.Errorf("syncer: send to %s error: %v", peer.Hex(), err)
	}
	return err
}

// Close tears down the live subscription and drops the view. Further calls are no-ops.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.subGen++
	s.list.Clear()
	s.queued = nil
	s.hasRecipient = false
	s.state = Uninitialized
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	glog.V(1).Infof("syncer: closed view of %s", s.account.Hex())
}

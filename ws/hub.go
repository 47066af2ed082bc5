package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/phan-manh-dung/dechat/auth"
	"github.com/phan-manh-dung/dechat/chain"
	"github.com/phan-manh-dung/dechat/chatstore"
	"github.com/phan-manh-dung/dechat/metrics"
	"github.com/phan-manh-dung/dechat/store"
	"github.com/phan-manh-dung/dechat/syncer"
	"github.com/phan-manh-dung/dechat/wallet"
)

const (
	DefaultApprovalTimeout = 2 * time.Minute
	DefaultRecentLimit     = 20
	DefaultMaxSessions     = 4

	sendQueueSize = 16
)

// Wallet is the session manager the hub drives; *wallet.Manager implements it.
type Wallet interface {
	Connect(ctx context.Context) (common.Address, error)
	Disconnect()
	SwitchAccount(ctx context.Context, account string) (common.Address, error)
	Contract() chain.Contract
	ChainID() int64
	Subscribe(ch chan<- wallet.Notice) event.Subscription
}

// EventSink receives every MessageSent event observed during a session.
type EventSink interface {
	Handle(e *chatstore.Event)
}

type Conf struct {
	ApprovalTimeout time.Duration
	RecentLimit     int
	MaxSessions     int
}

// Hub serves the conversation UI. All connected handlers observe the one wallet session:
// every view change is broadcast to all of them.
type Hub struct {
	conf       *Conf
	authClient auth.Client
	wallet     Wallet
	contacts   store.IContactStore
	sink       EventSink
	hstore     *HandlerStore

	wg sync.WaitGroup

	mu        sync.Mutex
	ctx       context.Context
	online    bool
	syncer    *syncer.Synchronizer
	sinkSub   chain.Subscription
	approvals map[string]chan bool
}

// NewHub creates a `Hub`. contacts and sink are optional.
func NewHub(authClient auth.Client, w Wallet, contacts store.IContactStore, sink EventSink, conf *Conf) *Hub {
	if conf.ApprovalTimeout <= 0 {
		conf.ApprovalTimeout = DefaultApprovalTimeout
	}
	if conf.RecentLimit <= 0 {
		conf.RecentLimit = DefaultRecentLimit
	}
	return &Hub{
		conf:       conf,
		authClient: authClient,
		wallet:     w,
		contacts:   contacts,
		sink:       sink,
		hstore:     newHandlerStore(),
		approvals:  make(map[string]chan bool),
	}
}

// Run follows wallet notices until ctx is done, then closes all connections.
func (h *Hub) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	notices := make(chan wallet.Notice, 8)
	sub := h.wallet.Subscribe(notices)
	defer sub.Unsubscribe()

	h.mu.Lock()
	h.ctx = ctx
	h.online = true
	h.mu.Unlock()
	glog.Info("hub: ready")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.online = false
			h.mu.Unlock()

			glog.Infof("close connections ...")
			h.closeSession()
			h.hstore.close()
			h.wg.Wait()
			glog.Infof("close connections done")
			stopDoneNotifyC <- struct{}{}
			return
		case n := <-notices:
			h.onNotice(n)
		}
	}
}

func (h *Hub) onNotice(n wallet.Notice) {
	glog.V(1).Infof("hub: wallet notice %s, account: %s", n.Kind, n.Account.Hex())
	switch n.Kind {
	case wallet.Connected:
		h.openSession(n.Account, common.Address{}, false)
	case wallet.AccountChanged:
		// the selected conversation survives an account switch.
		var (
			keep common.Address
			ok   bool
		)
		if s := h.current(); s != nil {
			keep, ok = s.Recipient()
		}
		h.openSession(n.Account, keep, ok)
	case wallet.Disconnected:
		h.closeSession()
		h.broadcastView()
	case wallet.NetworkChanged:
		h.closeSession()
		if n.Err != nil {
			h.hstore.broadcast(&ServerMsg{Error: newError(nil, n.Err)})
		}
		h.broadcastView()
	}
}

func (h *Hub) context() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx
}

func (h *Hub) current() *syncer.Synchronizer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncer
}

// openSession replaces the conversation view with a fresh one of account. The conversation
// with recipient is reloaded when hasRecipient, else the last one of account is restored.
func (h *Hub) openSession(account, recipient common.Address, hasRecipient bool) {
	contract := h.wallet.Contract()
	if contract == nil {
		// reset before the notice got here.
		return
	}
	ctx := h.context()

	s := syncer.New(ctx, contract, account)
	s.OnChange(func(v syncer.View) {
		if h.current() == s {
			h.hstore.broadcast(&ServerMsg{View: h.viewMsg(&v)})
		}
	})

	var sinkSub chain.Subscription
	if h.sink != nil {
		sub, err := contract.Subscribe(ctx, h.sink.Handle)
		if err != nil {
			glog.Errorf("hub: subscribe events for relay error: %v", err)
		} else {
			sinkSub = sub
		}
	}

	h.mu.Lock()
	old, oldSub := h.syncer, h.sinkSub
	h.syncer, h.sinkSub = s, sinkSub
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if oldSub != nil {
		oldSub.Unsubscribe()
	}

	h.broadcastView()

	if hasRecipient {
		if h.contacts != nil {
			if err := h.contacts.Touch(account, recipient, time.Now()); err != nil {
				glog.Errorf("hub: save contact error: %v", err)
			}
		}
	} else {
		if h.contacts == nil {
			return
		}
		last, ok, err := h.contacts.LastRecipient(account)
		if err != nil {
			glog.Errorf("hub: read last recipient of %s error: %v", account.Hex(), err)
			return
		}
		if !ok {
			return
		}
		recipient = last
	}

	glog.V(1).Infof("hub: restore conversation %s <-> %s", account.Hex(), recipient.Hex())
	h.spawn(func(ctx context.Context) {
		// failures are reported through the view.
		_ = s.LoadHistory(ctx, recipient.Hex())
	})
}

func (h *Hub) closeSession() {
	h.mu.Lock()
	s, sub := h.syncer, h.sinkSub
	h.syncer, h.sinkSub = nil, nil
	h.mu.Unlock()

	if s != nil {
		s.Close()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (h *Hub) viewMsg(v *syncer.View) *ViewMsg {
	msg := &ViewMsg{ChainID: h.wallet.ChainID()}
	if v == nil {
		msg.View = syncer.View{Messages: []chatstore.Message{}}
		return msg
	}
	msg.View = *v
	msg.Connected = true
	if h.contacts != nil {
		recent, err := h.contacts.Recent(v.Account, h.conf.RecentLimit)
		if err != nil {
			glog.Errorf("hub: read recent contacts error: %v", err)
		}
		msg.Recent = recent
	}
	return msg
}

func (h *Hub) currentView() *ViewMsg {
	if s := h.current(); s != nil {
		v := s.View()
		return h.viewMsg(&v)
	}
	return h.viewMsg(nil)
}

func (h *Hub) broadcastView() {
	h.hstore.broadcast(&ServerMsg{View: h.currentView()})
}

// spawn runs f on its own goroutine; Run waits for it on stop.
func (h *Hub) spawn(f func(ctx context.Context)) {
	ctx := h.context()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		f(ctx)
	}()
}

// dispatch serves req of handler; it returns false for an unknown request type.
// Requests that reach the chain run asynchronously, so that approvals can be answered meanwhile.
func (h *Hub) dispatch(handler *Handler, req *ClientMsg) bool {
	switch req.Type {
	case TypeApprove:
		h.answer(req.ID, req.OK)
		return true
	case TypeConnect, TypeDisconnect, TypeSelect, TypeRefresh, TypeSend, TypeSwitchAccount, TypeForget:
	default:
		return false
	}

	h.spawn(func(ctx context.Context) {
		if msg := h.serve(ctx, req); msg != nil {
			handler.reply(msg)
		}
	})
	return true
}

func (h *Hub) serve(ctx context.Context, req *ClientMsg) *ServerMsg {
	switch req.Type {
	case TypeConnect:
		if _, err := h.wallet.Connect(ctx); err != nil {
			return &ServerMsg{Error: newError(req, err)}
		}
		return nil
	case TypeDisconnect:
		h.wallet.Disconnect()
		return nil
	case TypeSwitchAccount:
		if _, err := h.wallet.SwitchAccount(ctx, req.Account); err != nil {
			return &ServerMsg{Error: newError(req, err)}
		}
		return nil
	}

	s := h.current()
	if s == nil {
		return &ServerMsg{Error: newError(req, &chatstore.Error{Kind: chatstore.WalletUnavailable, Cause: fmt.Errorf("not connected")})}
	}

	switch req.Type {
	case TypeSelect:
		peer, err := chatstore.ParseAddress(req.Recipient)
		if err != nil {
			return &ServerMsg{Error: newError(req, err)}
		}
		if h.contacts != nil {
			if err := h.contacts.Touch(s.Account(), peer, time.Now()); err != nil {
				glog.Errorf("hub: save contact error: %v", err)
			}
		}
		if err := s.LoadHistory(ctx, peer.Hex()); err != nil {
			return &ServerMsg{Error: newError(req, err)}
		}
	case TypeForget:
		peer, err := chatstore.ParseAddress(req.Recipient)
		if err != nil {
			return &ServerMsg{Error: newError(req, err)}
		}
		if h.contacts != nil {
			if err := h.contacts.Forget(s.Account(), peer); err != nil {
				glog.Errorf("hub: forget contact error: %v", err)
				return &ServerMsg{Error: newError(req, err)}
			}
			h.broadcastView()
		}
	case TypeRefresh:
		if err := s.Refresh(ctx); err != nil {
			return &ServerMsg{Error: newError(req, err)}
		}
	case TypeSend:
		hash, err := s.SubmitMessage(ctx, req.Recipient, req.Content)
		if err != nil {
			return &ServerMsg{Error: newError(req, err)}
		}
		return &ServerMsg{Sent: &SentMsg{
			TxHash: hash,
			URL:    chain.TxURL(common.HexToHash(hash)),
		}}
	}
	return nil
}

// Approve implements wallet.Approver: it prompts every connected client and waits for the
// first answer. No client or no answer in time declines.
func (h *Hub) Approve(ctx context.Context, req *wallet.Request) error {
	if h.hstore.count() == 0 {
		return fmt.Errorf("%w: no client to confirm", wallet.ErrDeclined)
	}

	id := strings.ReplaceAll(uuid.New(), "-", "")
	ch := make(chan bool, 1)
	h.mu.Lock()
	h.approvals[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.approvals, id)
		h.mu.Unlock()
	}()

	msg := &ApprovalMsg{
		ID:      id,
		Kind:    req.Kind.String(),
		Account: req.Account.Hex(),
		Content: req.Content,
	}
	if req.To != (common.Address{}) {
		msg.To = req.To.Hex()
	}
	h.hstore.broadcast(&ServerMsg{Approval: msg})

	timer := time.NewTimer(h.conf.ApprovalTimeout)
	defer timer.Stop()

	var stopping <-chan struct{}
	if hctx := h.context(); hctx != nil {
		stopping = hctx.Done()
	}

	select {
	case ok := <-ch:
		if !ok {
			return wallet.ErrDeclined
		}
		return nil
	case <-timer.C:
		glog.V(1).Infof("hub: approval %s timed out", id)
		return fmt.Errorf("%w: timed out", wallet.ErrDeclined)
	case <-ctx.Done():
		return ctx.Err()
	case <-stopping:
		return fmt.Errorf("%w: server stopping", wallet.ErrDeclined)
	}
}

func (h *Hub) answer(id string, ok bool) {
	h.mu.Lock()
	ch := h.approvals[id]
	h.mu.Unlock()
	if ch == nil {
		glog.V(1).Infof("hub: answer to unknown approval %s", id)
		return
	}
	select {
	case ch <- ok:
	default:
	}
}

func (h *Hub) isOnline() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.isOnline() {
		http.Error(w, "Server is not running", http.StatusServiceUnavailable)
		return
	}

	peer, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &Session{
		Sid:        strings.ReplaceAll(uuid.New(), "-", ""),
		Peer:       peer,
		CreateTime: time.Now().UnixNano(),
		Ip:         getRemoteIP(r),
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, peer: %s, err: %s", peer, err)
		return
	}

	handler := newHandler(h, sess, conn, sendQueueSize)

	conn.SetCloseHandler(func(code int, text string) error {
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.delHandler(sess.Sid)
		return nil
	})

	h.addHandler(handler)
	handler.reply(&ServerMsg{View: h.currentView()})

	go handler.recvLoop()
	go handler.sendLoop()
}

func (h *Hub) addHandler(handler *Handler) {
	h.hstore.add(handler)
	metrics.WsSessions.Inc()
	glog.V(1).Infof("hub: session online: %s", handler)

	if limit := h.conf.MaxSessions; limit > 0 && h.hstore.count() > limit {
		if old := h.hstore.oldest(handler.session.Sid); old != nil {
			h.Kickoff(old.session.Sid)
		}
	}
}

func (h *Hub) delHandler(sid string) {
	if h.hstore.del(sid) {
		metrics.WsSessions.Dec()
	}
}

// Kickoff closes the session sid after telling the client.
func (h *Hub) Kickoff(sid string) {
	if s := h.hstore.get(sid); s != nil {
		glog.V(5).Infof("Kickoff(): kickoff local session: %s", s)
		h.delHandler(sid)
		s.requestClose(KickedOff)
	}
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}

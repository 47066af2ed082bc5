package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/golang/glog"

	"github.com/phan-manh-dung/dechat/chain"
	"github.com/phan-manh-dung/dechat/chatstore"
	"github.com/phan-manh-dung/dechat/metrics"
)

const (
	DefaultPollInterval = 5 * time.Second

	// consecutive chain id read failures tolerated by the network watcher.
	maxPollFailures = 3
)

type NoticeKind int

const (
	Connected NoticeKind = iota + 1
	Disconnected
	AccountChanged
	NetworkChanged
)

var noticeNames = map[NoticeKind]string{
	Connected:      "connected",
	Disconnected:   "disconnected",
	AccountChanged: "account_changed",
	NetworkChanged: "network_changed",
}

func (k NoticeKind) String() string {
	if s, ok := noticeNames[k]; ok {
		return s
	}
	return "unknown"
}

// Notice reports a change of the wallet session.
type Notice struct {
	Kind    NoticeKind
	Account common.Address
	// why a NetworkChanged reset happened.
	Err error
}

// Backend is the JSON-RPC client of a session; *ethclient.Client satisfies it.
type Backend interface {
	chain.Backend
	ChainID(ctx context.Context) (*big.Int, error)
}

type Dialer func(ctx context.Context, url string) (Backend, error)

func DialRPC(ctx context.Context, url string) (Backend, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Config struct {
	RPCURL   string
	ChainID  int64
	Contract common.Address

	PollInterval time.Duration
}

// Manager owns the wallet session: the RPC connection, the active account and the
// signer-bound contract. At most one session exists at a time.
type Manager struct {
	conf Config
	keys KeySource
	dial Dialer

	// serializes Connect, Disconnect and SwitchAccount.
	opMu sync.Mutex

	mu        sync.Mutex
	approver  Approver
	gen       uint64
	backend   Backend
	account   common.Address
	preferred common.Address
	contract  *chain.EthContract
	stopWatch context.CancelFunc

	feed event.Feed
}

func NewManager(conf Config, keys KeySource, dial Dialer) *Manager {
	if conf.PollInterval <= 0 {
		conf.PollInterval = DefaultPollInterval
	}
	if dial == nil {
		dial = DialRPC
	}
	return &Manager{
		conf:     conf,
		keys:     keys,
		dial:     dial,
		approver: AutoApprover{},
	}
}

// SetApprover replaces the approver consulted for connect and transaction requests.
func (m *Manager) SetApprover(a Approver) {
	m.mu.Lock()
	m.approver = a
	m.mu.Unlock()
}

func (m *Manager) getApprover() Approver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approver
}

func (m *Manager) ChainID() int64 {
	return m.conf.ChainID
}

// Subscribe delivers session notices to ch until the subscription is cancelled.
// The sender blocks until ch accepts, so ch should be buffered and drained.
func (m *Manager) Subscribe(ch chan<- Notice) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *Manager) notify(n Notice) {
	metrics.WalletNotices.WithLabelValues(n.Kind.String()).Inc()
	m.feed.Send(n)
}

func (m *Manager) Account() (common.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account, m.backend != nil
}

func (m *Manager) Connected() bool {
	_, ok := m.Account()
	return ok
}

// Contract returns the signer-bound contract of the session, nil without one.
func (m *Manager) Contract() chain.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contract == nil {
		return nil
	}
	return m.contract
}

// Connect opens a session, or returns the account of the open one.
func (m *Manager) Connect(ctx context.Context) (common.Address, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if acc, ok := m.Account(); ok {
		return acc, nil
	}

	if m.keys == nil {
		return common.Address{}, unavailable(errors.New("no key source configured"))
	}
	accs := m.keys.Accounts()
	if len(accs) == 0 {
		return common.Address{}, unavailable(errors.New("no account available"))
	}
	account := accs[0]
	m.mu.Lock()
	if contains(accs, m.preferred) {
		account = m.preferred
	}
	m.mu.Unlock()

	if err := m.getApprover().Approve(ctx, &Request{Kind: RequestConnect, Account: account}); err != nil {
		glog.V(1).Infof("wallet: connect %s declined: %v", account.Hex(), err)
		return common.Address{}, chatstore.Wrap(chatstore.UserRejected, err)
	}

	backend, err := m.dial(ctx, m.conf.RPCURL)
	if err != nil {
		glog.Errorf("wallet: dial %s error: %v", m.conf.RPCURL, err)
		return common.Address{}, unavailable(fmt.Errorf("dial rpc: %w", err))
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		closeBackend(backend)
		return common.Address{}, unavailable(fmt.Errorf("read chain id: %w", err))
	}
	if id.Int64() != m.conf.ChainID {
		closeBackend(backend)
		glog.Warningf("wallet: rpc is on chain %s, want %d", id, m.conf.ChainID)
		return common.Address{}, &chatstore.Error{
			Kind:  chatstore.WrongNetwork,
			Cause: fmt.Errorf("chain id %s, want %d", id, m.conf.ChainID),
		}
	}

	contract, err := m.bind(backend, account)
	if err != nil {
		closeBackend(backend)
		return common.Address{}, unavailable(err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.backend = backend
	m.account = account
	m.contract = contract
	m.stopWatch = cancel
	m.mu.Unlock()

	go m.watchNetwork(watchCtx, backend, gen)

	glog.Infof("wallet: connected %s on chain %d", account.Hex(), m.conf.ChainID)
	m.notify(Notice{Kind: Connected, Account: account})
	return account, nil
}

// Disconnect closes the session, if any.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.backend == nil {
		m.mu.Unlock()
		return
	}
	account := m.account
	m.teardownLocked()
	m.mu.Unlock()

	glog.Infof("wallet: disconnected %s", account.Hex())
	m.notify(Notice{Kind: Disconnected, Account: account})
}

// SwitchAccount makes another account of the key source active in the open session.
func (m *Manager) SwitchAccount(ctx context.Context, account string) (common.Address, error) {
	addr, err := chatstore.ParseAddress(account)
	if err != nil {
		return common.Address{}, err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	backend, current := m.backend, m.account
	m.mu.Unlock()
	if backend == nil {
		return common.Address{}, unavailable(errors.New("not connected"))
	}
	if addr == current {
		return addr, nil
	}
	if !contains(m.keys.Accounts(), addr) {
		return common.Address{}, unavailable(fmt.Errorf("account %s is not available", addr.Hex()))
	}

	contract, err := m.bind(backend, addr)
	if err != nil {
		return common.Address{}, unavailable(err)
	}

	m.mu.Lock()
	m.account = addr
	m.preferred = addr
	m.contract = contract
	m.mu.Unlock()

	glog.Infof("wallet: account changed %s -> %s", current.Hex(), addr.Hex())
	m.notify(Notice{Kind: AccountChanged, Account: addr})
	return addr, nil
}

func (m *Manager) bind(backend Backend, account common.Address) (*chain.EthContract, error) {
	opts, err := m.keys.Transactor(account, big.NewInt(m.conf.ChainID))
	if err != nil {
		return nil, err
	}
	opts.Signer = m.approvingSigner(opts.Signer)
	return chain.NewEthContract(m.conf.Contract, backend, opts)
}

// approvingSigner asks the approver before every signature.
func (m *Manager) approvingSigner(sign bind.SignerFn) bind.SignerFn {
	return func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
		req := &Request{Kind: RequestTransaction, Account: from}
		if to, content, err := chain.DecodeSendMessage(tx.Data()); err == nil {
			req.To, req.Content = to, content
		}
		if err := m.getApprover().Approve(context.Background(), req); err != nil {
			return nil, chatstore.Wrap(chatstore.UserRejected, err)
		}
		return sign(from, tx)
	}
}

func (m *Manager) watchNetwork(ctx context.Context, backend Backend, gen uint64) {
	ticker := time.NewTicker(m.conf.PollInterval)
	defer ticker.Stop()

	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cctx, cancel := context.WithTimeout(ctx, m.conf.PollInterval)
		id, err := backend.ChainID(cctx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		var cause error
		if err != nil {
			failures++
			glog.Errorf("wallet: read chain id error (%d/%d): %v", failures, maxPollFailures, err)
			if failures < maxPollFailures {
				continue
			}
			cause = unavailable(fmt.Errorf("read chain id: %w", err))
		} else if id.Int64() != m.conf.ChainID {
			glog.Warningf("wallet: network changed to chain %s, want %d", id, m.conf.ChainID)
			cause = &chatstore.Error{
				Kind:  chatstore.WrongNetwork,
				Cause: fmt.Errorf("chain id %s, want %d", id, m.conf.ChainID),
			}
		} else {
			failures = 0
			continue
		}

		m.reset(gen, cause)
		return
	}
}

// reset drops the session of generation gen, if it still is the current one.
func (m *Manager) reset(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.backend == nil {
		m.mu.Unlock()
		return
	}
	account := m.account
	m.teardownLocked()
	m.mu.Unlock()

	m.notify(Notice{Kind: NetworkChanged, Account: account, Err: cause})
}

func (m *Manager) teardownLocked() {
	if m.stopWatch != nil {
		m.stopWatch()
	}
	closeBackend(m.backend)
	m.gen++
	m.backend = nil
	m.account = common.Address{}
	m.contract = nil
	m.stopWatch = nil
}

func closeBackend(b Backend) {
	if c, ok := b.(interface{ Close() }); ok {
		c.Close()
	}
}

func unavailable(cause error) error {
	return &chatstore.Error{Kind: chatstore.WalletUnavailable, Cause: cause}
}

func contains(accs []common.Address, a common.Address) bool {
	for _, x := range accs {
		if x == a {
			return true
		}
	}
	return false
}

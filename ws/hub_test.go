package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phan-manh-dung/dechat/auth"
	"github.com/phan-manh-dung/dechat/chain"
	mock_chain "github.com/phan-manh-dung/dechat/chain/mock"
	"github.com/phan-manh-dung/dechat/chatstore"
	"github.com/phan-manh-dung/dechat/store"
	store_mock "github.com/phan-manh-dung/dechat/store/mock"
	"github.com/phan-manh-dung/dechat/syncer"
	"github.com/phan-manh-dung/dechat/wallet"
)

var (
	alice = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob   = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	carol = common.HexToAddress("0xcccc000000000000000000000000000000000003")
)

type fakeWallet struct {
	mu         sync.Mutex
	contract   chain.Contract
	connected  bool
	connectErr error
	accounts   []common.Address
	feed       event.Feed
}

func (w *fakeWallet) Connect(ctx context.Context) (common.Address, error) {
	w.mu.Lock()
	if w.connectErr != nil {
		w.mu.Unlock()
		return common.Address{}, w.connectErr
	}
	w.connected = true
	w.mu.Unlock()
	w.feed.Send(wallet.Notice{Kind: wallet.Connected, Account: alice})
	return alice, nil
}

func (w *fakeWallet) Disconnect() {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	w.feed.Send(wallet.Notice{Kind: wallet.Disconnected, Account: alice})
}

func (w *fakeWallet) SwitchAccount(ctx context.Context, account string) (common.Address, error) {
	addr, err := chatstore.ParseAddress(account)
	if err != nil {
		return common.Address{}, err
	}
	w.mu.Lock()
	ok := false
	for _, a := range w.accounts {
		if a == addr {
			ok = w.connected
		}
	}
	w.mu.Unlock()
	if !ok {
		return common.Address{}, &chatstore.Error{Kind: chatstore.WalletUnavailable}
	}
	w.feed.Send(wallet.Notice{Kind: wallet.AccountChanged, Account: addr})
	return addr, nil
}

func (w *fakeWallet) Contract() chain.Contract {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return nil
	}
	return w.contract
}

func (w *fakeWallet) ChainID() int64 {
	return chain.DefaultChainID
}

func (w *fakeWallet) Subscribe(ch chan<- wallet.Notice) event.Subscription {
	return w.feed.Subscribe(ch)
}

type fakeSub struct{}

func (fakeSub) Unsubscribe() {}

type testEnv struct {
	hub      *Hub
	wallet   *fakeWallet
	contract *mock_chain.MockContract
	contacts *store_mock.MockIContactStore
	url      string
	cancel   context.CancelFunc
}

func newTestEnv(t *testing.T, conf *Conf) *testEnv {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	env := &testEnv{
		contract: mock_chain.NewMockContract(ctrl),
		contacts: store_mock.NewMockIContactStore(ctrl),
	}
	env.wallet = &fakeWallet{contract: env.contract}
	env.hub = NewHub(&auth.TokenClient{Token: "t0k"}, env.wallet, env.contacts, nil, conf)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{}, 1)
	go env.hub.Run(ctx, stopped)
	require.Eventually(t, env.hub.isOnline, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(env.hub)
	env.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=t0k"
	env.cancel = cancel
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return env
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads server messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(*ServerMsg) bool) *ServerMsg {
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg ServerMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if match(&msg) {
			return &msg
		}
	}
}

func isView(msg *ServerMsg) bool {
	return msg.View != nil
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, &Conf{})
	url := strings.TrimSuffix(env.url, "?token=t0k")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestConversationOverWebsocket(t *testing.T) {
	env := newTestEnv(t, &Conf{})
	conn := env.dial(t)

	first := readUntil(t, conn, isView)
	assert.False(t, first.View.Connected)
	assert.Equal(t, int64(chain.DefaultChainID), first.View.ChainID)

	env.contacts.EXPECT().LastRecipient(alice).Return(common.Address{}, false, nil)
	env.contacts.EXPECT().Recent(alice, DefaultRecentLimit).Return([]store.Contact{{Address: bob}}, nil).AnyTimes()
	env.contacts.EXPECT().Touch(alice, bob, gomock.Any()).Return(nil)
	env.contract.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(fakeSub{}, nil)
	env.contract.EXPECT().ReadMessages(gomock.Any(), bob).Return([]chatstore.Record{
		{Sender: alice, Content: "hi", Timestamp: 100},
	}, nil)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeConnect}))
	v := readUntil(t, conn, func(m *ServerMsg) bool { return m.View != nil && m.View.Connected })
	assert.Equal(t, alice, v.View.Account)
	require.Len(t, v.View.Recent, 1)
	assert.Equal(t, bob, v.View.Recent[0].Address)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeSelect, Recipient: bob.Hex()}))
	v = readUntil(t, conn, func(m *ServerMsg) bool {
		return m.View != nil && m.View.State == syncer.Ready
	})
	require.NotNil(t, v.View.Recipient)
	assert.Equal(t, bob, *v.View.Recipient)
	require.Len(t, v.View.Messages, 1)
	assert.Equal(t, "hi", v.View.Messages[0].Content)
	assert.True(t, v.View.Messages[0].IsMine)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeSend, Recipient: bob.Hex(), Content: "  "}))
	e := readUntil(t, conn, func(m *ServerMsg) bool { return m.Error != nil })
	assert.Equal(t, int(chatstore.EmptyMessage), e.Error.Code)
	assert.Equal(t, TypeSend, e.Error.Req.Type)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeDisconnect}))
	v = readUntil(t, conn, func(m *ServerMsg) bool { return m.View != nil && !m.View.Connected })
	assert.Empty(t, v.View.Messages)
}

func TestRestoreLastRecipient(t *testing.T) {
	env := newTestEnv(t, &Conf{})
	conn := env.dial(t)
	readUntil(t, conn, isView)

	env.contacts.EXPECT().LastRecipient(alice).Return(bob, true, nil)
	env.contacts.EXPECT().Recent(alice, gomock.Any()).Return(nil, nil).AnyTimes()
	env.contract.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(fakeSub{}, nil)
	env.contract.EXPECT().ReadMessages(gomock.Any(), bob).Return(nil, nil)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeConnect}))
	v := readUntil(t, conn, func(m *ServerMsg) bool {
		return m.View != nil && m.View.State == syncer.Ready
	})
	require.NotNil(t, v.View.Recipient)
	assert.Equal(t, bob, *v.View.Recipient)
}

func TestRequestErrors(t *testing.T) {
	env := newTestEnv(t, &Conf{})
	conn := env.dial(t)
	readUntil(t, conn, isView)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeRefresh}))
	e := readUntil(t, conn, func(m *ServerMsg) bool { return m.Error != nil })
	assert.Equal(t, int(chatstore.WalletUnavailable), e.Error.Code)

	env.wallet.mu.Lock()
	env.wallet.connectErr = &chatstore.Error{Kind: chatstore.WrongNetwork}
	env.wallet.mu.Unlock()
	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeConnect}))
	e = readUntil(t, conn, func(m *ServerMsg) bool { return m.Error != nil })
	assert.Equal(t, int(chatstore.WrongNetwork), e.Error.Code)
	assert.Equal(t, chatstore.UserMessage(env.wallet.connectErr), e.Error.Message)

	// unsupported requests close the session.
	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: "stats"}))
	e = readUntil(t, conn, func(m *ServerMsg) bool { return m.Error != nil })
	assert.Equal(t, ErrorCodeBadRequest, e.Error.Code)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestNetworkChangedResetsView(t *testing.T) {
	env := newTestEnv(t, &Conf{})
	conn := env.dial(t)
	readUntil(t, conn, isView)

	env.contacts.EXPECT().LastRecipient(alice).Return(common.Address{}, false, nil)
	env.contacts.EXPECT().Recent(alice, gomock.Any()).Return(nil, nil).AnyTimes()
	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeConnect}))
	readUntil(t, conn, func(m *ServerMsg) bool { return m.View != nil && m.View.Connected })

	env.wallet.feed.Send(wallet.Notice{
		Kind:    wallet.NetworkChanged,
		Account: alice,
		Err:     &chatstore.Error{Kind: chatstore.WrongNetwork},
	})
	e := readUntil(t, conn, func(m *ServerMsg) bool { return m.Error != nil })
	assert.Equal(t, int(chatstore.WrongNetwork), e.Error.Code)
	v := readUntil(t, conn, isView)
	assert.False(t, v.View.Connected)
}

func TestApprove(t *testing.T) {
	env := newTestEnv(t, &Conf{ApprovalTimeout: time.Second})
	ctx := context.Background()

	// nobody to ask.
	err := env.hub.Approve(ctx, &wallet.Request{Kind: wallet.RequestConnect, Account: alice})
	assert.True(t, errors.Is(err, wallet.ErrDeclined))

	conn := env.dial(t)
	readUntil(t, conn, isView)

	answer := func(ok bool) {
		a := readUntil(t, conn, func(m *ServerMsg) bool { return m.Approval != nil })
		assert.Equal(t, "transaction", a.Approval.Kind)
		assert.Equal(t, bob.Hex(), a.Approval.To)
		assert.Equal(t, "hey", a.Approval.Content)
		require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeApprove, ID: a.Approval.ID, OK: ok}))
	}
	req := &wallet.Request{Kind: wallet.RequestTransaction, Account: alice, To: bob, Content: "hey"}

	for _, ok := range []bool{true, false} {
		errC := make(chan error, 1)
		go func() { errC <- env.hub.Approve(ctx, req) }()
		answer(ok)
		err := <-errC
		if ok {
			assert.NoError(t, err)
		} else {
			assert.True(t, errors.Is(err, wallet.ErrDeclined))
		}
	}

	// no answer in time.
	err = env.hub.Approve(ctx, req)
	assert.True(t, errors.Is(err, wallet.ErrDeclined))
}

func TestMaxSessionsKicksOldest(t *testing.T) {
	env := newTestEnv(t, &Conf{MaxSessions: 1})

	first := env.dial(t)
	readUntil(t, first, isView)

	second := env.dial(t)
	readUntil(t, second, isView)

	readUntil(t, first, func(m *ServerMsg) bool { return m.Kickoff })
	assert.Eventually(t, func() bool { return env.hub.hstore.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestForgetContact(t *testing.T) {
	env := newTestEnv(t, &Conf{})
	conn := env.dial(t)
	readUntil(t, conn, isView)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeForget, Recipient: bob.Hex()}))
	e := readUntil(t, conn, func(m *ServerMsg) bool { return m.Error != nil })
	assert.Equal(t, int(chatstore.WalletUnavailable), e.Error.Code)

	var mu sync.Mutex
	recent := []store.Contact{{Address: bob}, {Address: carol}}
	env.contacts.EXPECT().LastRecipient(alice).Return(common.Address{}, false, nil)
	env.contacts.EXPECT().Recent(alice, gomock.Any()).DoAndReturn(
		func(common.Address, int) ([]store.Contact, error) {
			mu.Lock()
			defer mu.Unlock()
			return recent, nil
		}).AnyTimes()
	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeConnect}))
	readUntil(t, conn, func(m *ServerMsg) bool { return m.View != nil && m.View.Connected })

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeForget, Recipient: "0x12"}))
	e = readUntil(t, conn, func(m *ServerMsg) bool { return m.Error != nil })
	assert.Equal(t, int(chatstore.InvalidAddress), e.Error.Code)

	env.contacts.EXPECT().Forget(alice, bob).DoAndReturn(func(common.Address, common.Address) error {
		mu.Lock()
		recent = recent[1:]
		mu.Unlock()
		return nil
	})
	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeForget, Recipient: bob.Hex()}))
	v := readUntil(t, conn, func(m *ServerMsg) bool { return m.View != nil && len(m.View.Recent) == 1 })
	assert.Equal(t, carol, v.View.Recent[0].Address)
}

func TestAccountChangeKeepsRecipient(t *testing.T) {
	env := newTestEnv(t, &Conf{})
	env.wallet.mu.Lock()
	env.wallet.accounts = []common.Address{carol}
	env.wallet.mu.Unlock()
	conn := env.dial(t)
	readUntil(t, conn, isView)

	env.contacts.EXPECT().LastRecipient(alice).Return(common.Address{}, false, nil)
	env.contacts.EXPECT().Recent(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	env.contacts.EXPECT().Touch(alice, bob, gomock.Any()).Return(nil)
	env.contacts.EXPECT().Touch(carol, bob, gomock.Any()).Return(nil)
	env.contract.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(fakeSub{}, nil).Times(2)
	env.contract.EXPECT().ReadMessages(gomock.Any(), bob).Return([]chatstore.Record{
		{Sender: bob, Content: "yo", Timestamp: 7},
	}, nil).Times(2)

	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeConnect}))
	readUntil(t, conn, func(m *ServerMsg) bool { return m.View != nil && m.View.Connected })
	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeSelect, Recipient: bob.Hex()}))
	readUntil(t, conn, func(m *ServerMsg) bool { return m.View != nil && m.View.State == syncer.Ready })

	// no last recipient lookup for carol: bob stays selected.
	require.NoError(t, conn.WriteJSON(&ClientMsg{Type: TypeSwitchAccount, Account: carol.Hex()}))
	v := readUntil(t, conn, func(m *ServerMsg) bool {
		return m.View != nil && m.View.Account == carol && m.View.State == syncer.Ready
	})
	require.NotNil(t, v.View.Recipient)
	assert.Equal(t, bob, *v.View.Recipient)
	require.Len(t, v.View.Messages, 1)
	assert.False(t, v.View.Messages[0].IsMine)
}

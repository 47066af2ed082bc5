package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phan-manh-dung/dechat/auth"
)

// newQueuedHandler connects a client to a handler whose send loop is not started yet,
// so tests can fill its queue first.
func newQueuedHandler(t *testing.T, queueSize int) (*Hub, *Handler, *websocket.Conn) {
	hub := NewHub(&auth.TokenClient{}, &fakeWallet{}, nil, nil, &Conf{})

	handlers := make(chan *Handler, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := &Session{Sid: "s1", Peer: "local", CreateTime: time.Now().UnixNano()}
		handlers <- newHandler(hub, sess, conn, queueSize)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	h := <-handlers
	hub.addHandler(h)
	return hub, h, conn
}

func fillQueue(t *testing.T, h *Handler) {
	for i := 0; i < cap(h.dataChan)+2; i++ {
		h.reply(&ServerMsg{View: &ViewMsg{ChainID: int64(i)}})
	}
	require.Len(t, h.dataChan, cap(h.dataChan))
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestCloseSurvivesFullQueue(t *testing.T) {
	hub, h, conn := newQueuedHandler(t, 2)
	fillQueue(t, h)

	h.requestClose(ReadError)
	h.requestClose(BadRequest) // first cause wins.
	go h.sendLoop()

	// queued frames are flushed before the close.
	for i := 0; i < 2; i++ {
		v := readUntil(t, conn, isView)
		assert.Equal(t, int64(i), v.View.ChainID)
	}
	expectClosed(t, conn)

	assert.Eventually(t, h.isClosing, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.hstore.count())
	assert.Equal(t, ReadError, h.closeCause)
}

func TestKickoffSurvivesFullQueue(t *testing.T) {
	hub, h, conn := newQueuedHandler(t, 2)
	fillQueue(t, h)

	hub.Kickoff(h.session.Sid)
	assert.Equal(t, 0, hub.hstore.count())
	go h.sendLoop()

	readUntil(t, conn, func(m *ServerMsg) bool { return m.Kickoff })
	expectClosed(t, conn)
	assert.Eventually(t, h.isClosing, time.Second, 5*time.Millisecond)
}

func TestServerStopClosesSessions(t *testing.T) {
	hub, h, conn := newQueuedHandler(t, 2)
	go h.sendLoop()

	hub.hstore.close()
	expectClosed(t, conn)
	assert.Eventually(t, h.isClosing, time.Second, 5*time.Millisecond)
	// server stop leaves the store to the hub.
	assert.Equal(t, 1, hub.hstore.count())
}

package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
	KickedOff  SessionError = 6
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read, a send request carries up to 1000 runes.
	readLimit = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the server only listens on loopback or private addresses, and /ws is token checked.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Session describes one websocket connection of the UI.
type Session struct {
	Sid        string `json:"sid"`
	Peer       string `json:"peer"`
	CreateTime int64  `json:"create_time"`
	Ip         string `json:"ip"`
}

// Handler manages an active connection to the UI.
// Every new websocket connection creates a new session.
type Handler struct {
	sync.Mutex

	hub *Hub

	session *Session
	conn    *websocket.Conn

	// data frames only; a full chan drops them.
	dataChan chan *SessionData

	// closed once a close was requested, see requestClose.
	done       chan struct{}
	closeCause SessionError

	closing bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	ServerMsg *ServerMsg `json:"resp,omitempty"`
}

func newHandler(hub *Hub, session *Session, conn *websocket.Conn, queueSize int) *Handler {
	return &Handler{
		hub:      hub,
		session:  session,
		conn:     conn,
		dataChan: make(chan *SessionData, queueSize),
		done:     make(chan struct{}),
	}
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}

	h.closing = true

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	close(h.dataChan)
	h.Unlock()

	// the store takes handler locks while broadcasting, never delete under ours.
	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		h.hub.delHandler(h.session.Sid)
	}
}

// requestClose asks sendLoop to flush what is queued and close the session with cause.
// Only the first request counts. It never blocks and is never dropped.
func (h *Handler) requestClose(cause SessionError) {
	h.Lock()
	defer h.Unlock()
	if h.closing || h.closeCause != 0 {
		return
	}
	h.closeCause = cause
	close(h.done)
}

// appendDataChan never blocks; a session that can't keep up loses messages.
func (h *Handler) appendDataChan(v *SessionData) {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return
	}
	select {
	case h.dataChan <- v:
	default:
		glog.Errorf("appendDataChan(): data chan full, drop message, session: %s", h)
	}
}

func (h *Handler) reply(msg *ServerMsg) {
	h.appendDataChan(&SessionData{ServerMsg: msg})
}

func sendServerMsg(conn *websocket.Conn, msg *ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) isClosing() bool {
	h.Lock()
	defer h.Unlock()
	return h.closing
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h.String()) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.isClosing() {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.Errorf("recvLoop(): read error: %v", err)
			}
			h.requestClose(ReadError)
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.reply(&ServerMsg{Error: newBadRequestError(nil, "websocket only supports TextMessage")})
			h.requestClose(BadRequest)
			return
		}

		req := ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.reply(&ServerMsg{Error: newBadRequestError(nil, fmt.Sprintf("unmarshal error: %v", err))})
			h.requestClose(BadRequest)
			return
		}

		if !h.hub.dispatch(h, &req) {
			glog.Errorf("recvLoop(): unsupported request: %+v", req)
			h.reply(&ServerMsg{Error: newBadRequestError(&req, "unsupported request")})
			h.requestClose(BadRequest)
			return
		}
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h.String())
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h.String())
				return
			}
			if !h.send(v) {
				h.close(WriteError)
				return
			}
		case <-h.done:
			h.finish()
			return
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}

func (h *Handler) send(v *SessionData) bool {
	if glog.V(5) {
		dataJson, _ := json.Marshal(v)
		logValue := string(dataJson)
		if len(logValue) > 100 {
			logValue = logValue[:100] + " ..."
		}
		glog.Infof("sendLoop(), get from data chan, value: %s, session: %s", logValue, h.String())
	}

	if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
		glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h.String(), err)
		return false
	}
	return true
}

// finish flushes the frames queued before the close request, then closes.
func (h *Handler) finish() {
	h.Lock()
	cause := h.closeCause
	h.Unlock()

drain:
	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok {
				return
			}
			if !h.send(v) {
				h.close(WriteError)
				return
			}
		default:
			break drain
		}
	}

	if cause == KickedOff {
		if err := sendServerMsg(h.conn, &ServerMsg{Kickoff: true}); err != nil {
			glog.Errorf("sendLoop(), error write kickoff. session: %s, err: %v", h.String(), err)
		}
	}
	h.close(cause)
}

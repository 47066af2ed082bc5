package ws

import (
	"sync"
)

// memory handler store for local sessions.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func newHandlerStore() *HandlerStore {
	return &HandlerStore{handlers: make(map[string]*Handler)}
}

func (hs *HandlerStore) get(sid string) *Handler {
	hs.RLock()
	h := hs.handlers[sid]
	hs.RUnlock()
	return h
}

func (hs *HandlerStore) del(sid string) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.handlers[sid]; ok {
		delete(hs.handlers, sid)
		return true
	}
	return false
}

func (hs *HandlerStore) add(handler *Handler) {
	hs.Lock()
	hs.handlers[handler.session.Sid] = handler
	hs.Unlock()
}

func (hs *HandlerStore) count() int {
	hs.RLock()
	defer hs.RUnlock()
	return len(hs.handlers)
}

// oldest returns the earliest created handler other than except.
func (hs *HandlerStore) oldest(except string) *Handler {
	hs.RLock()
	defer hs.RUnlock()

	var out *Handler
	for sid, h := range hs.handlers {
		if sid == except {
			continue
		}
		if out == nil || h.session.CreateTime < out.session.CreateTime {
			out = h
		}
	}
	return out
}

func (hs *HandlerStore) broadcast(msg *ServerMsg) {
	hs.RLock()
	defer hs.RUnlock()
	for _, h := range hs.handlers {
		h.reply(msg)
	}
}

func (hs *HandlerStore) close() {
	hs.RLock()
	defer hs.RUnlock()
	for _, h := range hs.handlers {
		h.requestClose(ServerStop)
	}
}

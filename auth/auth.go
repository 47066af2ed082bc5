package auth

import "net/http"

type Client interface {
	// Auth authenticates the websocket peer, returns a label identifying it in logs.
	Auth(r *http.Request) (string, error)
}

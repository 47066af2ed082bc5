package ws

import (
	"github.com/phan-manh-dung/dechat/chatstore"
	"github.com/phan-manh-dung/dechat/store"
	"github.com/phan-manh-dung/dechat/syncer"
)

// Client message types.
const (
	TypeConnect       = "connect"
	TypeDisconnect    = "disconnect"
	TypeSelect        = "select"
	TypeRefresh       = "refresh"
	TypeSend          = "send"
	TypeSwitchAccount = "switch_account"
	TypeApprove       = "approve"
	TypeForget        = "forget"
)

// Error codes besides the chatstore.ErrorKind values.
const (
	ErrorCodeBadRequest = 400
	ErrorCodeInternal   = 500
)

// ClientMsg is a request from the conversation UI.
type ClientMsg struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content,omitempty"`
	Account   string `json:"account,omitempty"`

	// approve
	ID string `json:"id,omitempty"`
	OK bool   `json:"ok,omitempty"`
}

// ServerMsg carries exactly one of its fields.
type ServerMsg struct {
	View     *ViewMsg     `json:"view,omitempty"`
	Error    *ErrorMsg    `json:"error,omitempty"`
	Approval *ApprovalMsg `json:"approval,omitempty"`
	Sent     *SentMsg     `json:"sent,omitempty"`
	Kickoff  bool         `json:"kickoff,omitempty"`
}

type ViewMsg struct {
	syncer.View
	Connected bool            `json:"connected"`
	ChainID   int64           `json:"chain_id"`
	Recent    []store.Contact `json:"recent,omitempty"`
}

type ErrorMsg struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Req     *ClientMsg `json:"req,omitempty"`
}

// ApprovalMsg asks the user to allow a wallet request; answered by an approve message.
type ApprovalMsg struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Account string `json:"account"`
	To      string `json:"to,omitempty"`
	Content string `json:"content,omitempty"`
}

// SentMsg confirms a mined message transaction to the requesting client.
type SentMsg struct {
	TxHash string `json:"tx_hash"`
	URL    string `json:"url"`
}

func newBadRequestError(req *ClientMsg, msg string) *ErrorMsg {
	return &ErrorMsg{
		Code:    ErrorCodeBadRequest,
		Message: msg,
		Req:     req,
	}
}

func newError(req *ClientMsg, err error) *ErrorMsg {
	code := int(chatstore.KindOf(err))
	msg := chatstore.UserMessage(err)
	if code == 0 {
		code = ErrorCodeInternal
		msg = "internal error"
	}
	return &ErrorMsg{
		Code:    code,
		Message: msg,
		Req:     req,
	}
}

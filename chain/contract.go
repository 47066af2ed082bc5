package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/glog"

	"github.com/phan-manh-dung/dechat/chatstore"
)

// ChatABI is the interface of the deployed chat contract.
const ChatABI = `[
 {"type":"function","name":"sendMessage","stateMutability":"nonpayable",
  "inputs":[{"name":"_to","type":"address"},{"name":"_content","type":"string"}],"outputs":[]},
 {"type":"function","name":"getMessages","stateMutability":"view",
  "inputs":[{"name":"_other","type":"address"}],
  "outputs":[{"name":"","type":"tuple[]","components":[
    {"name":"sender","type":"address"},
    {"name":"content","type":"string"},
    {"name":"timestamp","type":"uint256"}]}]},
 {"type":"event","name":"MessageSent","anonymous":false,
  "inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"content","type":"string","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]}
]`

const (
	eventMessageSent  = "MessageSent"
	methodSendMessage = "sendMessage"
)

var chatABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ChatABI))
	if err != nil {
		panic(fmt.Sprintf("parse chat abi: %v", err))
	}
	return parsed
}

var ErrReverted = errors.New("transaction reverted")

// Backend is what the binding needs from a JSON-RPC client; *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type rawMessage struct {
	Sender    common.Address
	Content   string
	Timestamp *big.Int
}

type messageSentLog struct {
	From      common.Address
	To        common.Address
	Content   string
	Timestamp *big.Int
}

// EthContract implements Contract on top of go-ethereum's bound contract.
type EthContract struct {
	backend  Backend
	opts     *bind.TransactOpts
	contract *bind.BoundContract
}

// NewEthContract binds the contract at address to backend, signing with opts.
func NewEthContract(address common.Address, backend Backend, opts *bind.TransactOpts) (*EthContract, error) {
	if opts == nil {
		return nil, errors.New("nil transact opts")
	}
	return &EthContract{
		backend:  backend,
		opts:     opts,
		contract: bind.NewBoundContract(address, chatABI, backend, backend, backend),
	}, nil
}

// EncodeSendMessage packs the calldata of sendMessage(to, content).
func EncodeSendMessage(to common.Address, content string) ([]byte, error) {
	return chatABI.Pack(methodSendMessage, to, content)
}

// DecodeSendMessage unpacks sendMessage calldata, as found in an unsigned transaction.
func DecodeSendMessage(data []byte) (common.Address, string, error) {
	method, err := chatABI.MethodById(data)
	if err != nil {
		return common.Address{}, "", err
	}
	if method.Name != methodSendMessage {
		return common.Address{}, "", fmt.Errorf("unexpected method %s", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, "", fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	to, _ := args[0].(common.Address)
	content, _ := args[1].(string)
	return to, content, nil
}

func (c *EthContract) ReadMessages(ctx context.Context, peer common.Address) ([]chatstore.Record, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: c.opts.From}
	if err := c.contract.Call(opts, &out, "getMessages", peer); err != nil {
		return nil, fmt.Errorf("call getMessages: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	raw := *abi.ConvertType(out[0], new([]rawMessage)).(*[]rawMessage)
	records := make([]chatstore.Record, 0, len(raw))
	for _, m := range raw {
		records = append(records, chatstore.Record{
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: bigToInt64(m.Timestamp),
		})
	}
	glog.V(5).Infof("chain: read %d messages with %s", len(records), peer.Hex())
	return records, nil
}

func (c *EthContract) SendMessage(ctx context.Context, to common.Address, content string) (*PendingTx, error) {
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, methodSendMessage, to, content)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("chain: submitted tx %s to %s", tx.Hash().Hex(), to.Hex())
	return &PendingTx{Hash: tx.Hash(), tx: tx}, nil
}

func (c *EthContract) AwaitConfirmation(ctx context.Context, p *PendingTx) error {
	tx, ok := p.tx.(*types.Transaction)
	if !ok {
		return fmt.Errorf("pending tx %s was not submitted by this binding", p.Hash.Hex())
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s in block %d", ErrReverted, p.Hash.Hex(), receipt.BlockNumber)
	}
	glog.V(1).Infof("chain: tx %s confirmed in block %d", p.Hash.Hex(), receipt.BlockNumber)
	return nil
}

// Subscribe watches MessageSent logs. ctx only bounds the subscribe call; the returned
// subscription lives until Unsubscribe or an RPC error.
func (c *EthContract) Subscribe(ctx context.Context, handler func(*chatstore.Event)) (Subscription, error) {
	logs, sub, err := c.contract.WatchLogs(&bind.WatchOpts{Context: ctx}, eventMessageSent)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", eventMessageSent, err)
	}

	s := &logSubscription{done: make(chan struct{})}
	s.unsubscribe = sub.Unsubscribe
	go s.loop(c, logs, sub.Err(), handler)
	return s, nil
}

func (c *EthContract) decodeLog(l types.Log) (*chatstore.Event, error) {
	var v messageSentLog
	if err := c.contract.UnpackLog(&v, eventMessageSent, l); err != nil {
		return nil, err
	}
	return &chatstore.Event{
		From:      v.From,
		To:        v.To,
		Content:   v.Content,
		Timestamp: bigToInt64(v.Timestamp),
		TxHash:    l.TxHash,
		Block:     l.BlockNumber,
	}, nil
}

type logSubscription struct {
	once        sync.Once
	done        chan struct{}
	unsubscribe func()
}

func (s *logSubscription) loop(c *EthContract, logs <-chan types.Log, errC <-chan error, handler func(*chatstore.Event)) {
	defer glog.V(5).Infof("chain: subscription loop exited")
	for {
		select {
		case <-s.done:
			return
		case err, ok := <-errC:
			if ok && err != nil {
				glog.Errorf("chain: %s subscription error: %v", eventMessageSent, err)
			}
			return
		case l := <-logs:
			if l.Removed {
				glog.V(5).Infof("chain: skip removed log, tx: %s", l.TxHash.Hex())
				continue
			}
			ev, err := c.decodeLog(l)
			if err != nil {
				glog.Errorf("chain: decode %s log error, tx: %s, err: %v", eventMessageSent, l.TxHash.Hex(), err)
				continue
			}
			handler(ev)
		}
	}
}

func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.unsubscribe()
	})
}

// bigToInt64 clamps ledger timestamps to int64.
func bigToInt64(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	if !v.IsInt64() {
		glog.Warningf("chain: timestamp %s out of int64 range, clamped", v)
		if v.Sign() < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return v.Int64()
}

package chain

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")
	alice        = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	bob          = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
)

// fakeBackend overrides the few RPCs the tests exercise; any other call panics.
type fakeBackend struct {
	Backend

	callOutput []byte
	callErr    error
	lastCall   ethereum.CallMsg

	receipt *types.Receipt
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	b.lastCall = msg
	return b.callOutput, b.callErr
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return b.receipt, nil
}

func parsedABI(t *testing.T) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ChatABI))
	require.NoError(t, err)
	return parsed
}

func newTestContract(t *testing.T, b Backend) *EthContract {
	c, err := NewEthContract(contractAddr, b, &bind.TransactOpts{From: alice})
	require.NoError(t, err)
	return c
}

func TestReadMessages(t *testing.T) {
	parsed := parsedABI(t)
	out, err := parsed.Methods["getMessages"].Outputs.Pack([]struct {
		Sender    common.Address
		Content   string
		Timestamp *big.Int
	}{
		{Sender: alice, Content: "hi", Timestamp: big.NewInt(100)},
		{Sender: bob, Content: "hey", Timestamp: big.NewInt(101)},
	})
	require.NoError(t, err)

	b := &fakeBackend{callOutput: out}
	c := newTestContract(t, b)

	records, err := c.ReadMessages(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, alice, records[0].Sender)
	assert.Equal(t, "hi", records[0].Content)
	assert.Equal(t, int64(100), records[0].Timestamp)
	assert.Equal(t, bob, records[1].Sender)
	assert.Equal(t, int64(101), records[1].Timestamp)

	// reads are issued on behalf of the bound account.
	assert.Equal(t, alice, b.lastCall.From)
	require.NotNil(t, b.lastCall.To)
	assert.Equal(t, contractAddr, *b.lastCall.To)
}

func TestReadMessagesError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	c := newTestContract(t, &fakeBackend{callErr: cause})

	_, err := c.ReadMessages(context.Background(), bob)
	assert.True(t, errors.Is(err, cause))
}

func TestDecodeLog(t *testing.T) {
	parsed := parsedABI(t)
	ev := parsed.Events["MessageSent"]
	data, err := ev.Inputs.NonIndexed().Pack("hello", big.NewInt(1700000000))
	require.NoError(t, err)

	txHash := common.HexToHash("0x01")
	l := types.Log{
		Address: contractAddr,
		Topics: []common.Hash{
			ev.ID,
			common.BytesToHash(alice.Bytes()),
			common.BytesToHash(bob.Bytes()),
		},
		Data:        data,
		TxHash:      txHash,
		BlockNumber: 42,
	}

	c := newTestContract(t, &fakeBackend{})
	got, err := c.decodeLog(l)
	require.NoError(t, err)
	assert.Equal(t, alice, got.From)
	assert.Equal(t, bob, got.To)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, int64(1700000000), got.Timestamp)
	assert.Equal(t, txHash, got.TxHash)
	assert.Equal(t, uint64(42), got.Block)

	l.Topics[0] = common.HexToHash("0xdead")
	_, err = c.decodeLog(l)
	assert.Error(t, err)
}

func TestAwaitConfirmation(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &contractAddr, Gas: 21000, GasPrice: big.NewInt(1)})
	pending := &PendingTx{Hash: tx.Hash(), tx: tx}

	b := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)}}
	c := newTestContract(t, b)
	assert.NoError(t, c.AwaitConfirmation(context.Background(), pending))

	b.receipt = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(8)}
	err := c.AwaitConfirmation(context.Background(), pending)
	assert.True(t, errors.Is(err, ErrReverted))

	err = c.AwaitConfirmation(context.Background(), &PendingTx{Hash: tx.Hash()})
	assert.Error(t, err)
}

func TestTxURL(t *testing.T) {
	h := common.HexToHash("0xabc")
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+h.Hex(), TxURL(h))
}

func TestBigToInt64(t *testing.T) {
	assert.Equal(t, int64(0), bigToInt64(nil))
	assert.Equal(t, int64(5), bigToInt64(big.NewInt(5)))
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	assert.Equal(t, int64(math.MaxInt64), bigToInt64(huge))
	assert.Equal(t, int64(math.MinInt64), bigToInt64(new(big.Int).Neg(huge)))
}

func TestSendMessageCalldata(t *testing.T) {
	data, err := EncodeSendMessage(bob, "xin chào")
	require.NoError(t, err)

	to, content, err := DecodeSendMessage(data)
	require.NoError(t, err)
	assert.Equal(t, bob, to)
	assert.Equal(t, "xin chào", content)

	_, _, err = DecodeSendMessage([]byte{1, 2})
	assert.Error(t, err)

	getMessages, err := parsedABI(t).Pack("getMessages", bob)
	require.NoError(t, err)
	_, _, err = DecodeSendMessage(getMessages)
	assert.Error(t, err)
}

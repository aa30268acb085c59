package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/predex/internal/chain"
	"github.com/evetabi/predex/internal/domain"
)

const (
	treasury = "0x00000000000000000000000000000000000000aa"
	token    = "0x00000000000000000000000000000000000000bb"
	sender   = "0x00000000000000000000000000000000000000cc"
	txHash   = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

type fakeClient struct {
	receipt *types.Receipt
	err     error
	head    uint64
}

func (f *fakeClient) TransactionReceipt(context.Context, ethcmn.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

func (f *fakeClient) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func transferLog(tok, from, to string, amount int64) *types.Log {
	return &types.Log{
		Address: ethcmn.HexToAddress(tok),
		Topics: []ethcmn.Hash{
			chain.TransferTopic,
			ethcmn.BytesToHash(ethcmn.HexToAddress(from).Bytes()),
			ethcmn.BytesToHash(ethcmn.HexToAddress(to).Bytes()),
		},
		Data: ethcmn.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
	}
}

func receipt(block int64, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(block), Logs: logs}
}

func newVerifier(c chain.Client) *chain.Verifier {
	return chain.NewVerifier(c, chain.Config{Treasury: treasury, Token: token, Decimals: 6, Confirmations: 3})
}

func TestVerifyDeposit_SumsTreasuryTransfers(t *testing.T) {
	c := &fakeClient{head: 110, receipt: receipt(100,
		transferLog(token, sender, treasury, 1_500_000),
		transferLog(token, sender, treasury, 250_000),
		transferLog(token, sender, "0x00000000000000000000000000000000000000dd", 9_000_000),
		transferLog("0x00000000000000000000000000000000000000ee", sender, treasury, 9_000_000),
	)}
	amt, err := newVerifier(c).VerifyDeposit(context.Background(), txHash, sender)
	require.NoError(t, err)
	assert.True(t, amt.Equal(decimal.RequireFromString("1.75")), "got %s", amt)
}

func TestVerifyDeposit_WrongSender(t *testing.T) {
	c := &fakeClient{head: 110, receipt: receipt(100, transferLog(token, sender, treasury, 1_000_000))}
	_, err := newVerifier(c).VerifyDeposit(context.Background(), txHash, "0x00000000000000000000000000000000000000ff")
	assert.ErrorIs(t, err, domain.ErrTxNoTransfer)
}

func TestVerifyTx_FailsClosed(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		c    *fakeClient
		hash string
		want error
	}{
		{"not found", &fakeClient{err: ethereum.NotFound}, txHash, domain.ErrTxNotConfirmed},
		{"node down", &fakeClient{err: errors.New("dial tcp: refused")}, txHash, domain.ErrVerificationUnavailable},
		{"reverted", &fakeClient{head: 200, receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}}, txHash, domain.ErrTxNotConfirmed},
		{"too fresh", &fakeClient{head: 101, receipt: receipt(100)}, txHash, domain.ErrTxNotConfirmed},
		{"bad hash", &fakeClient{}, "0x12", domain.ErrTxNotConfirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := newVerifier(tc.c).VerifyTx(ctx, tc.hash)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	ok := &fakeClient{head: 103, receipt: receipt(100)}
	assert.NoError(t, newVerifier(ok).VerifyTx(ctx, txHash))
}

func TestVerifyContractTx(t *testing.T) {
	ctx := context.Background()
	contract := "0x0000000000000000000000000000000000000c0c"
	c := &fakeClient{head: 200, receipt: receipt(100, &types.Log{Address: ethcmn.HexToAddress(contract)})}
	v := newVerifier(c)

	assert.NoError(t, v.VerifyContractTx(ctx, txHash, contract))
	assert.ErrorIs(t, v.VerifyContractTx(ctx, txHash, token), domain.ErrTxNotConfirmed)
}

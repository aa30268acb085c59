// Package chain verifies transactions on an EVM chain: resolution evidence
// for contract-backed markets and ERC-20 deposits to the treasury.
//
// The verifier fails closed: anything other than a positive answer from the
// node is an error, and an unreachable node is domain.ErrVerificationUnavailable.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/evetabi/predex/internal/domain"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client is the subset of ethclient.Client the verifier needs.
type Client interface {
	TransactionReceipt(ctx context.Context, txHash ethcmn.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config configures a Verifier.
type Config struct {
	Treasury      string // deposit recipient
	Token         string // ERC-20 contract; empty accepts any token
	Decimals      int32  // token decimals
	Confirmations uint64 // blocks on top of the receipt's block
	Timeout       time.Duration
}

// Verifier checks receipts through a Client.
type Verifier struct {
	client        Client
	treasury      ethcmn.Address
	token         ethcmn.Address
	anyToken      bool
	decimals      int32
	confirmations uint64
	timeout       time.Duration
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain.Dial: %w", err)
	}
	return c, nil
}

// NewVerifier builds a verifier over client.
func NewVerifier(client Client, cfg Config) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Verifier{
		client:        client,
		treasury:      ethcmn.HexToAddress(cfg.Treasury),
		token:         ethcmn.HexToAddress(cfg.Token),
		anyToken:      cfg.Token == "",
		decimals:      cfg.Decimals,
		confirmations: cfg.Confirmations,
		timeout:       cfg.Timeout,
	}
}

// receipt fetches a successful receipt with enough confirmations.
func (v *Verifier) receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if !domain.IsTxHash(txHash) {
		return nil, domain.ErrTxNotConfirmed
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	r, err := v.client.TransactionReceipt(ctx, ethcmn.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, domain.ErrTxNotConfirmed
		}
		return nil, fmt.Errorf("chain.receipt: %v: %w", err, domain.ErrVerificationUnavailable)
	}
	if r == nil || r.Status != types.ReceiptStatusSuccessful || r.BlockNumber == nil {
		return nil, domain.ErrTxNotConfirmed
	}

	if v.confirmations > 0 {
		head, err := v.client.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain.receipt: block number: %v: %w", err, domain.ErrVerificationUnavailable)
		}
		mined := r.BlockNumber.Uint64()
		if head < mined || head-mined < v.confirmations {
			return nil, domain.ErrTxNotConfirmed
		}
	}
	return r, nil
}

// VerifyTx confirms that txHash was mined successfully with the configured
// number of confirmations.
func (v *Verifier) VerifyTx(ctx context.Context, txHash string) error {
	_, err := v.receipt(ctx, txHash)
	return err
}

// VerifyDeposit returns the total amount of token transfers in txHash from
// sender to the treasury, scaled by the token decimals.
func (v *Verifier) VerifyDeposit(ctx context.Context, txHash, sender string) (decimal.Decimal, error) {
	r, err := v.receipt(ctx, txHash)
	if err != nil {
		return decimal.Zero, err
	}

	from := ethcmn.HexToAddress(sender)
	checkSender := ethcmn.IsHexAddress(sender)
	total := new(big.Int)
	for _, lg := range r.Logs {
		if lg == nil || len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
			continue
		}
		if !v.anyToken && lg.Address != v.token {
			continue
		}
		if ethcmn.BytesToAddress(lg.Topics[2].Bytes()) != v.treasury {
			continue
		}
		if checkSender && ethcmn.BytesToAddress(lg.Topics[1].Bytes()) != from {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	if total.Sign() <= 0 {
		return decimal.Zero, domain.ErrTxNoTransfer
	}
	return decimal.NewFromBigInt(total, -v.decimals).RoundDown(domain.Scale), nil
}

// VerifyContractTx confirms txHash like VerifyTx and additionally requires
// at least one log emitted by contract, i.e. the transaction actually
// touched the market's settlement contract.
func (v *Verifier) VerifyContractTx(ctx context.Context, txHash, contract string) error {
	r, err := v.receipt(ctx, txHash)
	if err != nil {
		return err
	}
	if contract == "" {
		return nil
	}
	addr := ethcmn.HexToAddress(contract)
	for _, lg := range r.Logs {
		if lg != nil && lg.Address == addr {
			return nil
		}
	}
	return domain.ErrTxNotConfirmed
}

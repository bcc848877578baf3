// Package chain implements the minimal outbound Chain Client contract
// (spec §6): getBalance, broadcast, awaitReceipt.
package chain

import (
	"context"
	"math/big"
	"time"
)

// Receipt is the outcome of awaiting a submitted transaction.
type Receipt struct {
	Success     bool
	BlockNumber uint64
}

// ErrReceiptNotYet indicates the receipt has not landed within the
// caller's wait budget; the caller should leave the intent Submitted and
// let a later pass resume waiting (spec §4.6.1, §5).
var ErrReceiptNotYet = receiptNotYetError{}

type receiptNotYetError struct{}

func (receiptNotYetError) Error() string { return "chain: receipt not yet available" }

// Transaction is the minimal shape the Execution Engine needs to
// broadcast: who is sending, to whom, how much, and under which
// identity/nonce context the signer resolves at submission time.
type Transaction struct {
	From, To    string
	AmountUnits *big.Int
	TokenID     string
	// Nonce lets the recovery path (spec §4.6.2) query for a
	// already-broadcast transaction matching this exact (sender,
	// destination, nonce) triple before broadcasting again.
	Nonce uint64
}

// Client is the Chain Client contract.
type Client interface {
	GetBalance(ctx context.Context, addr, tokenID string) (*big.Int, error)
	Broadcast(ctx context.Context, tx Transaction) (txHash string, err error)
	AwaitReceipt(ctx context.Context, txHash string, timeout time.Duration) (Receipt, error)
	// FindBroadcast looks for a transaction matching (from, to, nonce)
	// already on-chain, for the crash-recovery path where a process died
	// between broadcast and persisting the txHash (spec §4.6.2).
	FindBroadcast(ctx context.Context, tx Transaction) (txHash string, found bool, err error)
}

// Package execution drives a TransferSignal from a fresh idempotency key
// through plan -> (propose ->) submit -> await confirmation, guaranteeing
// at-most-once on-chain effect per signal even across process restarts
// (spec §4.6).
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/breaker"
	"treasury-pipeline/internal/chain"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/domainerr"
	"treasury-pipeline/internal/keyed"
	"treasury-pipeline/internal/store/intent"
)

// Notifier receives observability events about intent state transitions
// and terminal outcomes; an alerting layer wires in here (spec §11.4).
type Notifier interface {
	NotifyIntentStatus(in domain.TransferIntent, previous domain.IntentStatus)
}

// Engine executes TransferSignals against a chain.Client, serializing
// every signal for a given rule through the keyed dispatcher so that a
// rule never has two in-flight intents at once (spec §4.6.3).
type Engine struct {
	intents    intent.Store
	client     chain.Client
	dispatcher *keyed.Dispatcher
	breaker    *breaker.Breaker
	notifier   Notifier
	logger     zerolog.Logger

	proposer Proposer

	retryConfig  RetryConfig
	receiptWait  time.Duration
	nonceForRule func(ruleID string) uint64
}

// Options parameterises an Engine.
type Options struct {
	Retry       RetryConfig
	ReceiptWait time.Duration
	// NonceForRule supplies the next nonce to use for ruleID's sender
	// account. A production wiring delegates to the chain client's
	// pending-nonce lookup; tests can supply a fixed sequence.
	NonceForRule func(ruleID string) uint64
}

// New constructs an Engine.
func New(intents intent.Store, client chain.Client, dispatcher *keyed.Dispatcher, br *breaker.Breaker, notifier Notifier, logger zerolog.Logger, opts Options) *Engine {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig("execution")
	}
	if opts.ReceiptWait <= 0 {
		opts.ReceiptWait = 2 * time.Minute
	}
	if opts.NonceForRule == nil {
		opts.NonceForRule = func(string) uint64 { return 0 }
	}
	return &Engine{
		intents: intents, client: client, dispatcher: dispatcher, breaker: br, notifier: notifier,
		proposer:     NewStubProposer(),
		logger:       logger.With().Str("component", "execution_engine").Logger(),
		retryConfig:  opts.Retry,
		receiptWait:  opts.ReceiptWait,
		nonceForRule: opts.NonceForRule,
	}
}

// WithProposer overrides the Engine's Proposer, e.g. to wire a real
// multisig-service client in place of the stub.
func (e *Engine) WithProposer(p Proposer) *Engine {
	e.proposer = p
	return e
}

// propose hands a Planned intent in either multisig mode to the
// configured Proposer and records the resulting proposalHash.
func (e *Engine) propose(ctx context.Context, in domain.TransferIntent) (domain.TransferIntent, error) {
	proposalHash, err := e.proposer.Propose(ctx, in)
	if err != nil {
		return domain.TransferIntent{}, fmt.Errorf("execution: propose: %w", err)
	}
	return e.transition(ctx, in, domain.Proposed, "", proposalHash, "")
}

// Submit drives sig to completion, or to a stable Proposed/Submitted/
// terminal state it can resume from later, serialized against every
// other Submit for the same rule.
func (e *Engine) Submit(ctx context.Context, sig domain.TransferSignal) error {
	return e.dispatcher.Submit(ctx, sig.RuleID, func(ctx context.Context) error {
		return e.process(ctx, sig)
	})
}

func (e *Engine) process(ctx context.Context, sig domain.TransferSignal) error {
	idemKey := IdemKey(sig)

	in, inserted, err := e.intents.InsertPlanned(ctx, domain.TransferIntent{
		IdemKey: idemKey, RuleID: sig.RuleID, TokenID: sig.TokenID,
		PriceAtFire: sig.PriceAtFire, DecimalsAtFire: sig.DecimalsAtFire, FiredAt: sig.FiredAt,
		AmountUnits: sig.AmountUnits, From: sig.From, To: sig.To, Mode: sig.ExecutionMode,
	})
	if err != nil && !domainerr.Is(err, domainerr.KindIdempotencyConflict) {
		return fmt.Errorf("execution: insert planned: %w", err)
	}
	if !inserted {
		e.logger.Info().Str("idem_key", idemKey).Str("status", in.Status.String()).Msg("re-attached to existing intent")
	}

	return e.advance(ctx, in)
}

// advance resumes in from whatever status it is currently in, which is
// exactly how the crash-recovery path (spec §4.6.2) is implemented:
// ResumeInFlight calls advance on every FindInFlightForRule row, and a
// re-driven signal calls it on the intent it re-attaches to.
func (e *Engine) advance(ctx context.Context, in domain.TransferIntent) error {
	for !in.Status.IsTerminal() {
		var next domain.TransferIntent
		var err error

		switch in.Status {
		case domain.Planned:
			if in.Mode == domain.MultisigPropose || in.Mode == domain.MultisigExecute {
				next, err = e.propose(ctx, in)
			} else {
				next, err = e.submit(ctx, in)
			}
		case domain.Proposed:
			// Proposed -> Submitted only happens off an external signal
			// (spec §4.6.2's "(external)" edge): an out-of-band poller
			// observes the proposal execute and calls
			// MarkProposalExecuted. advance() never broadcasts on a
			// Proposed intent's behalf.
			return nil
		case domain.Submitted:
			next, err = e.awaitAndFinalize(ctx, in)
		default:
			return fmt.Errorf("execution: unhandled status %s", in.Status)
		}

		if err != nil {
			return err
		}
		if next.Status == in.Status {
			// awaitAndFinalize returned "still pending"; stop here and
			// let a later pass resume.
			return nil
		}
		in = next
	}
	return nil
}

// submit broadcasts in's transaction, recovering a prior broadcast via
// FindBroadcast before sending a new one (the crash-between-broadcast-
// and-persist case).
func (e *Engine) submit(ctx context.Context, in domain.TransferIntent) (domain.TransferIntent, error) {
	tx := chain.Transaction{
		From: in.From, To: in.To, AmountUnits: in.AmountUnits, TokenID: in.TokenID,
		Nonce: e.nonceForRule(in.RuleID),
	}

	if hash, found, err := e.client.FindBroadcast(ctx, tx); err == nil && found {
		e.logger.Info().Str("idem_key", in.IdemKey).Str("tx_hash", hash).Msg("recovered prior broadcast")
		return e.transition(ctx, in, domain.Submitted, hash, "", "")
	}

	retryer := NewRetryer(e.retryConfig, e.logger, int64(len(in.IdemKey)))

	var txHash string
	attempt := func() error {
		result, err := e.runThroughBreaker(func() (any, error) {
			return e.client.Broadcast(ctx, tx)
		})
		if err != nil {
			return err
		}
		txHash = result.(string)
		return nil
	}

	if err := retryer.Execute(ctx, attempt); err != nil {
		if domainerr.Is(err, domainerr.KindTerminalChainError) {
			return e.transition(ctx, in, domain.MinedFailed, "", "", err.Error())
		}
		return domain.TransferIntent{}, fmt.Errorf("execution: broadcast: %w", err)
	}

	return e.transition(ctx, in, domain.Submitted, txHash, "", "")
}

// awaitAndFinalize polls for a receipt within the wait budget. If it's
// not ready yet, the intent stays Submitted and the caller retries on a
// later pass (spec §5: "receipt wait has an upper bound, after which the
// intent stays Submitted").
func (e *Engine) awaitAndFinalize(ctx context.Context, in domain.TransferIntent) (domain.TransferIntent, error) {
	receipt, err := e.client.AwaitReceipt(ctx, in.TxHash, e.receiptWait)
	if errors.Is(err, chain.ErrReceiptNotYet) {
		return in, nil
	}
	if err != nil {
		return domain.TransferIntent{}, fmt.Errorf("execution: await receipt: %w", err)
	}

	if receipt.Success {
		return e.transition(ctx, in, domain.MinedSuccess, in.TxHash, in.ProposalHash, "")
	}
	return e.transition(ctx, in, domain.MinedFailed, in.TxHash, in.ProposalHash, "transaction reverted on-chain")
}

func (e *Engine) transition(ctx context.Context, in domain.TransferIntent, next domain.IntentStatus, txHash, proposalHash, failureNote string) (domain.TransferIntent, error) {
	previous := in.Status
	if err := e.intents.UpdateStatus(ctx, in.IdemKey, next, txHash, proposalHash, failureNote); err != nil {
		return domain.TransferIntent{}, fmt.Errorf("execution: update status: %w", err)
	}

	in.Status = next
	if txHash != "" {
		in.TxHash = txHash
	}
	if proposalHash != "" {
		in.ProposalHash = proposalHash
	}
	if failureNote != "" {
		in.FailureNote = failureNote
	}

	if e.notifier != nil {
		e.notifier.NotifyIntentStatus(in, previous)
	}
	return in, nil
}

func (e *Engine) runThroughBreaker(fn func() (any, error)) (any, error) {
	if e.breaker == nil {
		return fn()
	}
	return e.breaker.Execute(fn)
}

// MarkProposalExecuted is the external trigger for the Proposed ->
// Submitted edge (spec §4.6.2): an out-of-band poller calls this once it
// observes the multisig proposal identified by idemKey's ProposalHash
// actually execute on-chain, supplying the resulting txHash. It is the
// only path that advances a Proposed intent; advance() never does so on
// its own.
func (e *Engine) MarkProposalExecuted(ctx context.Context, idemKey, txHash string) error {
	in, ok, err := e.intents.FindByIdemKey(ctx, idemKey)
	if err != nil {
		return fmt.Errorf("execution: mark proposal executed: find %s: %w", idemKey, err)
	}
	if !ok {
		return fmt.Errorf("execution: mark proposal executed: no intent for %s", idemKey)
	}
	if in.Status != domain.Proposed {
		return fmt.Errorf("execution: mark proposal executed: intent %s is %s, not proposed", idemKey, in.Status)
	}

	return e.dispatcher.Submit(ctx, in.RuleID, func(ctx context.Context) error {
		next, err := e.transition(ctx, in, domain.Submitted, txHash, "", "")
		if err != nil {
			return err
		}
		return e.advance(ctx, next)
	})
}

// ResumeInFlight finds every non-terminal intent for ruleID and advances
// each. Nothing in internal/service or internal/app calls it, so a
// restarted process advances an in-flight intent only when its signal
// is re-driven through Submit.
func (e *Engine) ResumeInFlight(ctx context.Context, ruleID string) error {
	pending, err := e.intents.FindInFlightForRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("execution: find in flight: %w", err)
	}
	for _, in := range pending {
		if err := e.dispatcher.Submit(ctx, ruleID, func(ctx context.Context) error {
			return e.advance(ctx, in)
		}); err != nil {
			return err
		}
	}
	return nil
}

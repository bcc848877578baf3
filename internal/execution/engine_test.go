package execution

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/chain"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/keyed"
	"treasury-pipeline/internal/store/intent"
)

type recordingNotifier struct {
	transitions []domain.TransferIntent
}

func (n *recordingNotifier) NotifyIntentStatus(in domain.TransferIntent, _ domain.IntentStatus) {
	n.transitions = append(n.transitions, in)
}

func newEngineHarness() (*Engine, *intent.MemoryStore, *chain.StaticClient, *recordingNotifier) {
	store := intent.NewMemoryStore()
	client := chain.NewStaticClient()
	notifier := &recordingNotifier{}
	dispatcher := keyed.New()
	eng := New(store, client, dispatcher, nil, notifier, zerolog.Nop(), Options{
		Retry:       RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		ReceiptWait: 2 * time.Second,
	})
	return eng, store, client, notifier
}

func sig() domain.TransferSignal {
	return domain.TransferSignal{
		RuleID: "r1", TokenID: "WETH", PriceAtFire: big.NewInt(2000), DecimalsAtFire: 18,
		FiredAt: 1000, AmountUnits: big.NewInt(5), Direction: domain.HotToCold,
		From: "0xhot", To: "0xcold", ExecutionMode: domain.DirectKey,
	}
}

func TestSubmitDirectKeyReachesMinedSuccess(t *testing.T) {
	eng, store, _, notifier := newEngineHarness()
	ctx := context.Background()

	if err := eng.Submit(ctx, sig()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	key := IdemKey(sig())
	in, ok, err := store.FindByIdemKey(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected intent to be persisted, ok=%v err=%v", ok, err)
	}
	if in.Status != domain.MinedSuccess {
		t.Fatalf("expected MinedSuccess, got %s", in.Status)
	}
	if in.TxHash == "" {
		t.Fatal("expected a tx hash to be recorded")
	}
	if len(notifier.transitions) == 0 {
		t.Fatal("expected at least one status transition notification")
	}
}

func TestSubmitIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	eng, store, _, _ := newEngineHarness()
	ctx := context.Background()
	s := sig()

	if err := eng.Submit(ctx, s); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := eng.Submit(ctx, s); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	key := IdemKey(s)
	in, ok, err := store.FindByIdemKey(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected intent, ok=%v err=%v", ok, err)
	}
	if in.Status != domain.MinedSuccess {
		t.Fatalf("expected MinedSuccess after re-attach, got %s", in.Status)
	}
}

func TestSubmitStaysSubmittedWhenReceiptPending(t *testing.T) {
	eng, store, client, _ := newEngineHarness()
	client.PendingReceipt = true
	ctx := context.Background()
	s := sig()

	if err := eng.Submit(ctx, s); err != nil {
		t.Fatalf("submit: %v", err)
	}

	in, ok, err := store.FindByIdemKey(ctx, IdemKey(s))
	if err != nil || !ok {
		t.Fatalf("expected intent, ok=%v err=%v", ok, err)
	}
	if in.Status != domain.Submitted {
		t.Fatalf("expected Submitted while receipt pending, got %s", in.Status)
	}

	client.PendingReceipt = false
	if err := eng.ResumeInFlight(ctx, s.RuleID); err != nil {
		t.Fatalf("resume in flight: %v", err)
	}

	in, _, _ = store.FindByIdemKey(ctx, IdemKey(s))
	if in.Status != domain.MinedSuccess {
		t.Fatalf("expected MinedSuccess after resume, got %s", in.Status)
	}
}

func TestMultisigProposeStopsAtProposed(t *testing.T) {
	eng, store, _, _ := newEngineHarness()
	ctx := context.Background()
	s := sig()
	s.ExecutionMode = domain.MultisigPropose

	if err := eng.Submit(ctx, s); err != nil {
		t.Fatalf("submit: %v", err)
	}

	in, ok, err := store.FindByIdemKey(ctx, IdemKey(s))
	if err != nil || !ok {
		t.Fatalf("expected intent, ok=%v err=%v", ok, err)
	}
	if in.Status != domain.Proposed {
		t.Fatalf("expected the multisig flow to stop at Proposed pending external execution, got %s", in.Status)
	}
	if in.ProposalHash == "" {
		t.Fatal("expected a proposal hash to be recorded")
	}
}

func TestMarkProposalExecutedCarriesProposedToMinedSuccess(t *testing.T) {
	eng, store, client, _ := newEngineHarness()
	ctx := context.Background()
	s := sig()
	s.ExecutionMode = domain.MultisigPropose

	if err := eng.Submit(ctx, s); err != nil {
		t.Fatalf("submit: %v", err)
	}

	key := IdemKey(s)
	in, _, _ := store.FindByIdemKey(ctx, key)
	if in.Status != domain.Proposed {
		t.Fatalf("expected Proposed before external execution, got %s", in.Status)
	}

	client.Receipts["0xexternaltx"] = chain.Receipt{Success: true, BlockNumber: 1}
	if err := eng.MarkProposalExecuted(ctx, key, "0xexternaltx"); err != nil {
		t.Fatalf("mark proposal executed: %v", err)
	}

	in, ok, err := store.FindByIdemKey(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected intent, ok=%v err=%v", ok, err)
	}
	if in.Status != domain.MinedSuccess {
		t.Fatalf("expected MinedSuccess after external execution is observed, got %s", in.Status)
	}
	if in.TxHash != "0xexternaltx" {
		t.Fatalf("expected the externally supplied tx hash to be recorded, got %q", in.TxHash)
	}
}

func TestMarkProposalExecutedRejectsNonProposedIntent(t *testing.T) {
	eng, _, _, _ := newEngineHarness()
	ctx := context.Background()
	s := sig()

	if err := eng.Submit(ctx, s); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := eng.MarkProposalExecuted(ctx, IdemKey(s), "0xexternaltx"); err == nil {
		t.Fatal("expected an error marking a DirectKey intent's proposal executed")
	}
}

package alerting

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/balancer"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/storage"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("expected path to contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Kind: "divergence", TokenID: "WETH", Message: "diverged", EmittedAt: time.Now()}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("expected Notify to succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if received["text"] == "" {
		t.Fatal("expected non-empty text")
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Kind: "divergence", TokenID: "WETH", Message: "diverged", EmittedAt: time.Now()}

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("expected an error when telegram reports ok=false")
	}
}

func TestTelegramNotifierSkipsWhenNotRoutedToTelegram(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Kind: "divergence", TokenID: "WETH", Message: "diverged", Channels: []string{"slack"}, EmittedAt: time.Now()}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("expected a skipped notification to report no error: %v", err)
	}
	if called {
		t.Fatal("expected telegram not to be called when channels exclude it")
	}
}

type capturingNotifier struct {
	notes []Notification
}

func (c *capturingNotifier) Notify(_ context.Context, note Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

type capturingAudit struct {
	divergences          []storage.DivergenceEventRecord
	insufficientBalances []storage.InsufficientBalanceEventRecord
}

func (c *capturingAudit) InsertDivergenceEvent(_ context.Context, rec storage.DivergenceEventRecord) error {
	c.divergences = append(c.divergences, rec)
	return nil
}

func (c *capturingAudit) ListRecentDivergenceEvents(context.Context, int) ([]storage.DivergenceEventRecord, error) {
	return c.divergences, nil
}

func (c *capturingAudit) InsertInsufficientBalanceEvent(_ context.Context, rec storage.InsufficientBalanceEventRecord) error {
	c.insufficientBalances = append(c.insufficientBalances, rec)
	return nil
}

func (c *capturingAudit) ListRecentInsufficientBalanceEvents(context.Context, int) ([]storage.InsufficientBalanceEventRecord, error) {
	return c.insufficientBalances, nil
}

var _ storage.AuditStore = (*capturingAudit)(nil)

func TestDispatcherRoutesDivergence(t *testing.T) {
	capture := &capturingNotifier{}
	audit := &capturingAudit{}
	dispatcher := NewDispatcher(capture, audit, []string{"telegram"}, testLogger())

	dispatcher.ObserveDivergence("WETH", domain.Quote{Source: domain.SourceChainlink, Price: big.NewInt(2510)}, big.NewInt(2500), big.NewInt(200), domain.TokenCfg{DeltaBps: 150})

	if len(capture.notes) != 1 || capture.notes[0].Kind != "divergence" {
		t.Fatalf("expected one divergence notification, got %+v", capture.notes)
	}
	if len(audit.divergences) != 1 || audit.divergences[0].ChosenPrice != "2500" {
		t.Fatalf("expected one persisted divergence event, got %+v", audit.divergences)
	}
}

func TestDispatcherRoutesInsufficientBalance(t *testing.T) {
	capture := &capturingNotifier{}
	audit := &capturingAudit{}
	dispatcher := NewDispatcher(capture, audit, []string{"telegram"}, testLogger())

	dispatcher.ObserveInsufficientBalance(balancer.InsufficientBalanceEvent{
		RuleID: "r1", ComputedUnits: big.NewInt(10), BalanceUnits: big.NewInt(1),
	})

	if len(capture.notes) != 1 || capture.notes[0].Kind != "insufficient_balance" {
		t.Fatalf("expected one insufficient_balance notification, got %+v", capture.notes)
	}
	if len(audit.insufficientBalances) != 1 {
		t.Fatalf("expected one persisted insufficient balance event, got %+v", audit.insufficientBalances)
	}
}

func TestDispatcherNilNotifierAndAuditDoNotPanic(t *testing.T) {
	dispatcher := NewDispatcher(nil, nil, nil, testLogger())
	dispatcher.ObserveDivergence("WETH", domain.Quote{Source: domain.SourcePyth, Price: big.NewInt(1)}, big.NewInt(1), big.NewInt(1), domain.TokenCfg{})
	dispatcher.ObserveInsufficientBalance(balancer.InsufficientBalanceEvent{RuleID: "r1", ComputedUnits: big.NewInt(1), BalanceUnits: big.NewInt(0)})
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

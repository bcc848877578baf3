package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"treasury-pipeline/internal/domain"
)

// firedAtWindow buckets FiredAt to a coarse window so that two signals
// from the same rule within the same window collapse onto one idemKey
// even if their exact timestamps differ by a second or two of scheduler
// jitter. No library in the dependency stack offers a deterministic
// content hash; crypto/sha256 is the standard library's own answer to
// that need and needs no third-party substitute.
const idemWindowSec = 60

func firedAtWindow(firedAt int64) int64 {
	return firedAt - (firedAt % idemWindowSec)
}

// IdemKey derives the deterministic idempotency key for a TransferSignal:
// H(ruleId, firedAtWindow, amountUnits, direction). Two signals that hash
// to the same key are the same intent; the key is computed once when the
// signal is first observed and is never regenerated afterward (spec
// §4.6.1, §9 design notes).
func IdemKey(sig domain.TransferSignal) string {
	window := firedAtWindow(sig.FiredAt)
	payload := fmt.Sprintf("%s|%d|%s|%s", sig.RuleID, window, sig.AmountUnits.String(), sig.Direction)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

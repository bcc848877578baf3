package execution

import (
	"context"

	"github.com/google/uuid"

	"treasury-pipeline/internal/domain"
)

// Proposer hands a Planned, MultisigPropose-mode intent to an external
// multisig service and returns its proposal identifier. No concrete
// multisig-service client is part of this system (spec's non-goals); this
// is the documented plug-in point a deployment wires a real one into.
type Proposer interface {
	Propose(ctx context.Context, in domain.TransferIntent) (proposalHash string, err error)
}

// StubProposer satisfies Proposer without calling out to any real
// service: it mints a random identifier via google/uuid, which is never
// used as an idemKey (idemKey stays the deterministic hash from
// IdemKey) and exists only so the Proposed state is reachable and
// persisted correctly end to end.
type StubProposer struct{}

// NewStubProposer constructs the default no-op Proposer.
func NewStubProposer() *StubProposer { return &StubProposer{} }

// Propose implements Proposer.
func (StubProposer) Propose(_ context.Context, _ domain.TransferIntent) (string, error) {
	return uuid.NewString(), nil
}

var _ Proposer = StubProposer{}

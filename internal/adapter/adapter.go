// Package adapter defines the shared contract every price source adapter
// implements (spec §4.1) and the lightweight registry the Aggregator uses
// to address them by source tag rather than by a fixed positional tuple
// (spec §9 open questions).
package adapter

import (
	"context"

	"treasury-pipeline/internal/domain"
)

// Source is the contract every price source adapter speaks. It must
// never return an error across this boundary for conditions the spec
// classifies as NoData: network failure, unknown symbol, malformed
// payload, or a non-positive price. ok=false with err=nil is the
// adapter's way of reporting a clean miss; err is reserved for conditions
// the caller cannot recover from locally (misconfiguration).
type Source interface {
	Fetch(ctx context.Context, tokenID string) (q domain.Quote, ok bool, err error)
}

// Set is an addressable collection of Sources keyed by tag, replacing the
// fixed positional constructor tuple the original implementation varied
// across commits.
type Set map[domain.SourceTag]Source

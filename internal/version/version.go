package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// SchemaVersion names the current shape of the persisted TransferIntent
// state machine (spec §4.6.2). Bump it whenever a migration changes the
// set of reachable IntentStatus values or their columns, so an operator
// can tell from a log line whether an intent row predates a schema change.
const SchemaVersion = "intent-v1"

// String renders a one-line identifier treasury-pipeline attaches to its
// startup log line and its version command, so both stay in sync.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, schema %s)", Version, Commit, BuildDate, SchemaVersion)
}

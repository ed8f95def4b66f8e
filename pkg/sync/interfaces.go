// Package sync defines the public contracts of the GitBridge
// synchronization core: publishing working-copy changes to an upstream
// repository and resolving the credentials that authenticate the
// transport.
package sync

import "context"

// Result is the outcome of a publish cycle.
type Result int

const (
	// Published means local changes were committed and pushed upstream.
	Published Result = iota
	// NoChanges means the working copy already matched the last
	// published state; the cycle was an idempotent no-op.
	NoChanges
)

func (r Result) String() string {
	if r == NoChanges {
		return "no_changes"
	}
	return "published"
}

// Publisher durably publishes the working copy's pending changes.
//
// Publish stages every pending difference, commits it as one unit of
// history labeled with message, integrates upstream history, and pushes.
// Implementations must guarantee at most one publish cycle executes at a
// time per repository, across processes.
type Publisher interface {
	Publish(ctx context.Context, message string) (Result, error)
}

// SecretProvider resolves credentials on demand for the version-control
// transport. It replaces askpass-style helper processes: the secret is
// handed directly to the transport layer and must never be written to
// logs, argument vectors, or environment dumps.
//
// The returned map must include a "type" field and the fields that type
// requires:
//
//   - "token_auth": {"type": "token_auth", "token": "ghp_..."}
//   - "basic_auth": {"type": "basic_auth", "username": "u", "password": "p"}
//   - "ssh_key":    {"type": "ssh_key", "key": "-----BEGIN ...", "passphrase": "...", "fingerprints": ["SHA256:..."]}
type SecretProvider interface {
	// GetSecret retrieves a secret by name.
	GetSecret(ctx context.Context, name string) (map[string]any, error)
}

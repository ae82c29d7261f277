/*
Package types defines the core data structures shared across the arena
orchestrator.

The two central types are Session and Run. A Session is created by one user
submission and holds the prompt plus the identifiers of its child runs; the
run list is fixed at creation. A Run is one (prompt, provider, model) triple
being driven through the lifecycle:

	queued → generating → installing → building → starting → healthy → ready

with failed reachable from any non-terminal state and terminated reserved
for explicit kills. RunStatus.CanTransition encodes the machine; the
lifecycle engine (pkg/engine) is the sole writer of a run's status.

All types are JSON-serializable for the HTTP surface. Mutations are
synchronized by the state store (pkg/store); callers treat values returned
from the store as snapshots.
*/
package types

/*
Package engine implements the run lifecycle state machine.

Each run is driven by one goroutine through

	queued → generating → installing → building → starting → healthy → ready

with every failure converging on a single sink: record the error, stop the
container, release the port, delete the workspace, unregister from the
gateway, set failed. An explicit kill follows the same release sequence
and sets terminated instead; killing an already-terminal run is a no-op.

All blocking steps (code generation, build wait, health probing) accept
the run's context, so a kill interrupts them at the next suspension point.
Every transition additionally issues a best-effort PATCH to the UI process
via Notifier; the in-process store remains authoritative.
*/
package engine

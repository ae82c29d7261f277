// Package client is a thin HTTP wrapper over the orchestrator API, used
// by the CLI subcommands.
package client

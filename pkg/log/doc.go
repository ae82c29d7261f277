/*
Package log provides structured logging for the arena orchestrator using
zerolog.

Init configures the package-level Logger once at startup with a level and an
output format (JSON for production, console for development). Packages derive
child loggers with WithComponent, and per-run log lines carry run and session
identifiers via WithRunID / WithSessionID:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	engineLog := log.WithComponent("engine")
	engineLog.Info().Str("run_id", run.ID).Msg("run started")

Never log generated file contents or gateway credentials.
*/
package log

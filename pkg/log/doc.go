/*
Package log provides structured logging for Burrow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and support
filtering by severity level.

# Usage

Initializing the global logger (done once, from the CLI entrypoint):

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers for providers and background workers:

	logger := log.WithService("dynamodb")
	logger.Info().Str("table", name).Msg("table created")

	logger := log.WithComponent("stream-dispatcher")
	logger.Warn().Int("dropped", n).Msg("buffer full, dropping records")

Event-fabric handler failures are logged and never propagated to producers,
so this package is the only place those errors become visible.
*/
package log

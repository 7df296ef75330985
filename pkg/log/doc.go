/*
Package log provides structured logging built on zerolog.

It wraps a single global zerolog.Logger with JSON or console output,
configurable level filtering, and helpers for attaching component and
request-scoped fields without repeating them at every call site.

# Usage

	import "github.com/cuemby/storelog/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("storelog starting")

	l := log.WithComponent("storelog").With().Str("dir", dir).Logger()
	l.Info().Int64("last_index", lastIndex).Msg("log opened")

# Context loggers

WithComponent, WithPartition, and WithInstance each return a child
logger with one extra field pinned, so a caller holding onto one of
these doesn't need to repeat Str/Int64 calls at every log line.

# Integration points

  - pkg/storelog: log open/close, appends, commits, and compaction
  - pkg/raftstore: the hashicorp/raft LogStore/StableStore adapter
  - cmd/storelog-inspect: the diagnostic CLI

# See also

https://github.com/rs/zerolog
*/
package log

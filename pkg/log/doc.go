/*
Package log provides structured logging for group0 using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

group0's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("guard")                   │          │
	│  │  - WithComponent("fsm")                     │          │
	│  │  - WithComponent("submit")                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "debug",                        │          │
	│  │    "component": "guard",                    │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "operation started"           │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z DBG operation started    │        │
	│  │    component=guard                           │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every group0 package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add a node_id field to all logs
  - WithStateID: Add a state_id field to all logs

# Usage

Initializing the Logger:

	import "github.com/cuemby/group0/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/group0d.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Component Loggers:

	// Create component-specific logger
	guardLog := log.WithComponent("guard")
	guardLog.Debug().Str("observed_state_id", observed.String()).Msg("operation started")

	// Multiple context fields
	fsmLog := log.WithComponent("fsm").
		With().Str("node_id", "node-1").Logger()
	fsmLog.Error().Err(err).Msg("apply failed")

# Integration Points

This package integrates with every component package:

  - pkg/guard: Logs operation start with the observed and new state IDs
  - pkg/submit: Logs submission retries
  - pkg/fsm: Logs apply/skip decisions and snapshot transfers
  - pkg/group0: Logs bootstrap/join and background GC

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"group0","time":"2024-10-13T10:30:00Z","message":"bootstrapped new cluster"}
	{"level":"debug","component":"guard","time":"2024-10-13T10:30:01Z","message":"operation started"}
	{"level":"warn","component":"group0","time":"2024-10-13T10:30:02Z","message":"history gc failed"}

Console Format (Development):

	2024-10-13T10:30:00Z INF bootstrapped new cluster component=group0
	2024-10-13T10:30:01Z DBG operation started component=guard
	2024-10-13T10:30:02Z WRN history gc failed component=group0

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation

# Troubleshooting

No Log Output:
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Missing Context Fields:
  - Cause: Using global Logger instead of a component logger
  - Solution: Use WithComponent() or create child loggers

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces

Don't:
  - Log sensitive data (secrets, raft transport credentials)
  - Use Debug level in production
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log

/*
Package log provides structured logging for the orchestrator using
zerolog.

The log package wraps zerolog to give every component JSON-structured
logging with a configurable level, a consistent component/job/agent/
request field set, and the usual package-level Info/Warn/Error helpers
for one-off messages outside a request or background-task context.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  Global Logger (zerolog.Logger)                           │
	│  - Initialized via log.Init(Config{Level, JSONOutput})    │
	│                     │                                      │
	│  Scoped loggers                                            │
	│  - WithComponent("dispatcher"/"detector"/"api"/...)        │
	│  - WithJobID(jobID)                                        │
	│  - WithAgentID(agentID)                                    │
	│  - WithRequestID(requestID)                                │
	│                     │                                      │
	│  Output: JSON (production) or zerolog's console writer     │
	│  (JSONOutput=false, for local development)                 │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

The dispatcher and detector build their component logger once at
construction and keep it; other call sites create a scoped logger where
they log, carrying whatever identifying field is available (job ID,
agent ID, request ID) so log lines from a given job or agent can be
grepped together without a trace ID.
*/
package log

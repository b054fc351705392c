/*
Package events provides an in-memory event broker for the orchestrator's
pub/sub notifications.

The events package implements a lightweight event bus for broadcasting
job and agent lifecycle occurrences to interested subscribers. It is
topic-agnostic: every subscriber receives every event and filters for
what it cares about, which keeps producers (jobstore, registry, review)
decoupled from consumers (the API layer's future event stream, test
assertions).

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                    │
	│  Broadcast Loop (Broker.run)                               │
	│       ↓                                                    │
	│  Subscriber Channels (one per Subscribe call)              │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Event types

Job events: job.created, job.dispatched, job.frozen, job.resumed,
job.approved, job.completed, job.failed, job.cancelled.

Agent events: agent.registered, agent.ready, agent.working,
agent.offline, agent.removed.

# Delivery semantics

Publish never blocks the caller: a full event channel drops the event,
and a full subscriber channel drops it for that subscriber, rather than
stalling the jobstore/registry state transition that produced it. The
broker keeps no history and writes nothing to storage; it is a
best-effort live feed.
*/
package events

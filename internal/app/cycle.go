package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/delivery"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/queue"
)

// Scope selects which halves of a run cycle execute.
type Scope string

// Cycle scopes.
const (
	ScopeAll        Scope = "all"
	ScopeBroadcasts Scope = "broadcasts"
	ScopeProcess    Scope = "process"
)

// ParseScope validates a scope string; empty means everything.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeBroadcasts:
		return ScopeBroadcasts, nil
	case ScopeProcess:
		return ScopeProcess, nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

// CycleResult aggregates one run cycle.
type CycleResult struct {
	Expansion  broadcast.ExpandResult `json:"expansion"`
	Processing delivery.Result        `json:"processing"`
	Purged     int64                  `json:"purged"`
}

// Cycle runs expansion then processing as one re-entrant pass. Both halves
// are independent; either may be skipped via the scope.
type Cycle struct {
	expander  *broadcast.Expander
	processor *delivery.Processor
	queue     *queue.Service

	batchLimit int
	retention  time.Duration
}

// NewCycle wires a run cycle.
func NewCycle(expander *broadcast.Expander, processor *delivery.Processor, queueSvc *queue.Service, batchLimit int, retention time.Duration) *Cycle {
	return &Cycle{
		expander:   expander,
		processor:  processor,
		queue:      queueSvc,
		batchLimit: batchLimit,
		retention:  retention,
	}
}

// Run executes one cycle. Expansion failures do not prevent processing;
// both errors surface to the caller combined with whatever progress was
// made.
func (c *Cycle) Run(ctx context.Context, scope Scope, trigger delivery.Trigger) (CycleResult, error) {
	var result CycleResult
	log := ctxlog.FromContext(ctx)

	if scope == ScopeAll || scope == ScopeBroadcasts {
		expansion, err := c.expander.ExpandPending(ctx)
		result.Expansion = expansion
		if err != nil {
			log.ErrorContext(ctx, "expansion pass failed", "error", err)
			if scope == ScopeBroadcasts {
				return result, err
			}
		}
	}

	if scope == ScopeAll || scope == ScopeProcess {
		processing, err := c.processor.ProcessBatch(ctx, trigger, c.batchLimit)
		result.Processing = processing
		if err != nil {
			return result, err
		}
	}

	if scope == ScopeAll && c.retention > 0 {
		purged, err := c.queue.PurgeOldTerminal(ctx, c.retention)
		if err != nil {
			log.ErrorContext(ctx, "retention cleanup failed", "error", err)
		}
		result.Purged = purged
	}

	return result, nil
}

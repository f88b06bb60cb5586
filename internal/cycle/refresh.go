package cycle

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/stage"
)

const defaultTimelineLimit = 50

// RefreshResult holds everything the post-cycle refresh pulled back.
type RefreshResult struct {
	Timeline *api.TimelinePayload
	Context  *api.ContextBundle
	Indices  *api.ExplainIndices
	Snapshot *api.CycleSnapshot
	Outbox   []api.OutboxMessage
}

// refreshAfterCycle re-reads everything a finished cycle may have changed:
// timeline, context bundle, and index explain concurrently, then the
// authoritative snapshot and outbox. Drives the SnapshotRefresh and
// OutboxReady stages; a failure fails the stage it occurred in without
// undoing the earlier ones.
func (r *Runner) refreshAfterCycle(ctx context.Context, gen uint64, p Params, wireID, display string) (*RefreshResult, error) {
	if !r.current(gen) {
		return nil, ErrSuperseded
	}
	r.stages.Start(stage.KindSnapshotRefresh, fmt.Sprintf("refreshing after cycle #%s", display))

	q := p.Timeline
	if q.Limit == 0 {
		q.Limit = defaultTimelineLimit
	}
	if q.SessionID == "" {
		q.SessionID = p.Session
	}

	res := &RefreshResult{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tl, err := r.backend.GetTimeline(gctx, p.Tenant, q)
		if err != nil {
			return fmt.Errorf("timeline: %w", err)
		}
		res.Timeline = tl
		return nil
	})
	g.Go(func() error {
		bundle, err := r.backend.GetContextBundle(gctx, p.Tenant)
		if err != nil {
			return fmt.Errorf("context bundle: %w", err)
		}
		res.Context = bundle
		return nil
	})
	g.Go(func() error {
		idx, err := r.backend.GetExplainIndices(gctx, p.Tenant)
		if err != nil {
			return fmt.Errorf("explain indices: %w", err)
		}
		res.Indices = idx
		return nil
	})
	if err := g.Wait(); err != nil {
		r.recordClientError(gen, "refresh after cycle", stage.KindSnapshotRefresh, err)
		return res, err
	}

	snap, err := r.backend.GetCycleSnapshot(ctx, p.Tenant, wireID)
	if err != nil {
		r.recordClientError(gen, "read cycle snapshot", stage.KindSnapshotRefresh, err)
		return res, err
	}
	if !r.current(gen) {
		return res, ErrSuperseded
	}
	res.Snapshot = snap
	status := snap.TerminalStatus()
	if status == "" {
		status = "completed"
	}
	r.stages.Complete(stage.KindSnapshotRefresh, fmt.Sprintf("cycle %s %s", display, status))

	r.stages.Start(stage.KindOutboxReady, fmt.Sprintf("loading outbox for cycle #%s", display))
	msgs, err := r.backend.GetCycleOutbox(ctx, p.Tenant, wireID)
	if err != nil {
		r.recordClientError(gen, "load cycle outbox", stage.KindOutboxReady, err)
		return res, err
	}
	if !r.current(gen) {
		return res, ErrSuperseded
	}
	res.Outbox = msgs
	r.stages.Complete(stage.KindOutboxReady, fmt.Sprintf("%d outbox message(s)", len(msgs)))

	return res, nil
}

package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/stage"
)

// verification is the resolved meaning of one authoritative snapshot read
// after an ambiguous stream drop.
type verification struct {
	ok      bool // cycle actually completed; only the observation channel died
	status  string
	message string
}

// resolveDisconnect asks the backend what actually happened to a cycle whose
// progress stream dropped mid-flight. One snapshot read, no retry loop: both
// a definitive answer and a failed read are terminal for this run.
func (r *Runner) resolveDisconnect(ctx context.Context, tenant, wireID, display string) verification {
	snap, err := r.backend.GetCycleSnapshot(ctx, tenant, wireID)
	if err != nil {
		if apiErr, found := api.AsError(err); found && apiErr.IsNotFound() {
			return verification{status: "gone",
				message: fmt.Sprintf("cycle %s is no longer available on the backend: %v", display, err)}
		}
		return verification{status: "unknown",
			message: fmt.Sprintf("could not verify cycle %s after the stream dropped: %v", display, err)}
	}

	status := strings.ToLower(strings.TrimSpace(snap.TerminalStatus()))
	switch status {
	case "completed", "complete", "success":
		return verification{ok: true, status: status}
	case "failed", "failure", "error":
		return verification{status: status,
			message: fmt.Sprintf("cycle %s failed: %s", display, status)}
	case "running", "awaiting_external", "pending":
		// The cycle itself is fine; we only lost the window onto it.
		return verification{status: status,
			message: fmt.Sprintf("cycle %s is still running; the progress stream was dropped, refresh to check its latest state", display)}
	default:
		return verification{status: status,
			message: fmt.Sprintf("cycle %s ended with unrecognized status %q", display, status)}
	}
}

// verifyAfterDrop resolves the disconnect and folds the answer back into the
// workflow: a completed-family status takes the same path as a stream
// complete event, everything else fails the StreamAwait stage.
func (r *Runner) verifyAfterDrop(ctx context.Context, gen uint64, p Params, wireID, display, traceID string) Outcome {
	v := r.resolveDisconnect(ctx, p.Tenant, wireID, display)
	if !r.current(gen) {
		// A newer trigger reset the stage register while the snapshot read
		// was in flight; this run's answer no longer belongs to anyone.
		return Outcome{CycleID: display, WireID: wireID, Err: ErrSuperseded}
	}
	r.metrics.RecordVerification(ctx, v.status)

	if v.ok {
		r.stages.Complete(stage.KindStreamAwait, v.status)
		r.log.Info("cycle completed while the stream was down",
			"cycle", display, "status", v.status)
		return r.completeCycle(ctx, gen, p, wireID, display, v.status, nil, traceID)
	}

	r.stages.Fail(stage.KindStreamAwait, v.message)
	return Outcome{
		CycleID: display,
		WireID:  wireID,
		Status:  v.status,
		TraceID: traceID,
		Err:     errors.New(v.message),
	}
}

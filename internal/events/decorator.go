package events

import (
	"context"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/worker"
)

// InstrumentProcessor wraps next so every claim and its settlement
// also publishes a task.* event, without the Worker that calls next
// knowing events exist at all. queueID is attached to every event so
// a gateway watching many Pools can tell them apart.
func InstrumentProcessor(pub Publisher, queueID string, next worker.Processor) worker.Processor {
	return func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) {
		ownerToken := pctx.OwnerToken()
		publish(pub, TaskClaimed, TaskData(ownerToken, map[string]interface{}{"queue_id": queueID}))

		result, err := next(ctx, task, pctx)

		rejected := err != nil
		if explicit, explicitlyRejected := pctx.Settled(); explicit {
			// The processor settled via Resolve/Reject ahead of returning —
			// that decision wins over a nil-error/nil-result return, the same
			// way Worker.finalize prioritizes it (spec.md §4.3).
			rejected = explicitlyRejected
		}

		if rejected {
			data := map[string]interface{}{"queue_id": queueID}
			if err != nil {
				data["error"] = err.Error()
			}
			publish(pub, TaskRejected, TaskData(ownerToken, data))
			return result, err
		}
		publish(pub, TaskResolved, TaskData(ownerToken, map[string]interface{}{"queue_id": queueID}))
		return result, err
	}
}

// InstrumentReportError wraps a Pool's ReportError callback so an
// OwnershipLostError also becomes a task.ownership_lost event; every
// error, instrumented or not, still reaches next.
func InstrumentReportError(pub Publisher, queueID string, next func(error)) func(error) {
	return func(err error) {
		if err != nil {
			if _, ok := err.(*worker.OwnershipLostError); ok {
				publish(pub, TaskOwnershipLost, map[string]interface{}{
					"queue_id": queueID,
					"error":    err.Error(),
				})
			}
		}
		next(err)
	}
}

func publish(pub Publisher, t Type, data map[string]interface{}) {
	if pub == nil {
		return
	}
	// Best-effort: a dropped lifecycle notification never blocks or
	// fails the task it describes.
	_ = pub.Publish(context.Background(), New(t, data))
}

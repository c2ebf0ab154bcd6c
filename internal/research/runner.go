package research

import (
	"context"
	"log/slog"
	"time"

	"github.com/quillback/research-relay/internal/upstream"
)

// DefaultBackoff is the fixed wait between reconnection attempts. No
// exponential growth and no retry cap: a non-complete query retries for the
// life of the process.
const DefaultBackoff = 2 * time.Second

// Upstream is the slice of the interactions API the runner consumes.
// *upstream.Client satisfies it.
type Upstream interface {
	CreateInteraction(ctx context.Context, prompt string) (<-chan upstream.StreamResult, error)
	ResumeInteraction(ctx context.Context, interactionID, lastEventID string) (<-chan upstream.StreamResult, error)
}

// Runner owns the single ingestion path of each query it is handed: the
// initial stream, and after any gap, the reconnection-resumed stream. The two
// never overlap — a resume attempt starts only after the prior stream has
// fully drained.
type Runner struct {
	upstream Upstream
	backoff  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a runner. backoff <= 0 selects DefaultBackoff.
func NewRunner(up Upstream, backoff time.Duration, logger *slog.Logger) *Runner {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{upstream: up, backoff: backoff, logger: logger}
}

// Run drives q to a terminal phase: open the interaction, ingest its stream,
// and reconnect from the checkpoint whenever the stream ends before the
// explicit completion event. Run returns when the query is terminal or ctx
// is cancelled. Callers start it on its own goroutine.
func (r *Runner) Run(ctx context.Context, q *Query) {
	q.markStarted()

	stream, err := r.upstream.CreateInteraction(ctx, q.Prompt)
	if err != nil {
		r.logger.Error("failed to start interaction",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()),
		)
		q.Fail(err.Error())
		return
	}

	r.consume(q, stream)
	r.reconnect(ctx, q)
}

// reconnect re-attaches to the upstream until the query completes. Stream
// closure is never treated as completion; only the explicit completion event
// (observed by ingestion) ends the loop. If the first attempt died before an
// interaction id existed there is nothing to resume, so the query fails with
// a synthetic error event.
func (r *Runner) reconnect(ctx context.Context, q *Query) {
	for !q.IsComplete() {
		interactionID := q.InteractionID()
		if interactionID == "" {
			q.Fail("stream ended before the interaction was acknowledged")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.backoff):
		}

		r.logger.Info("reconnecting to interaction",
			slog.String("query_id", q.ID),
			slog.String("interaction_id", interactionID),
			slog.String("last_event_id", q.LastEventID()),
		)

		stream, err := r.upstream.ResumeInteraction(ctx, interactionID, q.LastEventID())
		if err != nil {
			r.logger.Warn("reconnection failed",
				slog.String("query_id", q.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.consume(q, stream)
	}
}

// consume drains one stream attempt into the ingestion path. A transport
// error aborts the attempt but is not terminal for the query.
func (r *Runner) consume(q *Query, stream <-chan upstream.StreamResult) {
	for res := range stream {
		if res.Err != nil {
			r.logger.Warn("stream error",
				slog.String("query_id", q.ID),
				slog.String("error", res.Err.Error()),
			)
			continue
		}
		q.Ingest(res.Event)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/ais-track-etl/internal/domain"
	"github.com/couchcryptid/ais-track-etl/internal/observability"
)

// ErrEmit marks a point the track state has released but that could not be
// serialized. The pipeline treats it as fatal since the point cannot be
// produced again.
var ErrEmit = errors.New("emit track point")

// TrackTransformer implements Transformer on top of the stateful domain
// track transform. Messages must be fed in stream order.
type TrackTransformer struct {
	track   *domain.Transformer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewTransformer creates a TrackTransformer that grids points with grid.
func NewTransformer(grid domain.GridIndexer, cfg domain.TransformerConfig, metrics *observability.Metrics, logger *slog.Logger) *TrackTransformer {
	return &TrackTransformer{
		track:   domain.NewTransformer(grid, cfg),
		metrics: metrics,
		logger:  logger,
	}
}

// Transform decodes one source message and advances the track state. The
// result holds the point completed by this message, if any.
func (t *TrackTransformer) Transform(_ context.Context, raw domain.RawEvent) (Result, error) {
	row, err := domain.ParseRawEvent(raw)
	if err != nil {
		return Result{}, err
	}

	outcome, err := t.process(row)
	if err != nil {
		return Result{}, err
	}

	if outcome.Rejected != "" {
		t.metrics.RowsRejected.WithLabelValues(string(outcome.Rejected)).Inc()
		t.logger.Debug("row rejected",
			"reason", outcome.Rejected,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		return Result{Rejected: outcome.Rejected}, nil
	}

	res := Result{Accepted: true}
	if outcome.Emitted != nil {
		out, err := t.emit(*outcome.Emitted)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrEmit, err)
		}
		res.Events = []domain.OutputEvent{out}
	}
	return res, nil
}

// Flush releases the pending point as the end of its segment.
func (t *TrackTransformer) Flush(_ context.Context) (Result, error) {
	p := t.track.Flush()
	if p == nil {
		return Result{}, nil
	}
	out, err := t.emit(*p)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrEmit, err)
	}
	return Result{Events: []domain.OutputEvent{out}}, nil
}

// Tally returns the rejection counters.
func (t *TrackTransformer) Tally() *domain.Tally {
	return t.track.Tally()
}

func (t *TrackTransformer) emit(p domain.TrackPoint) (domain.OutputEvent, error) {
	out, err := domain.SerializeTrackPoint(p)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	t.metrics.RowsEmitted.WithLabelValues(string(p.Type)).Inc()
	return out, nil
}

// process runs the domain transform, turning the ordering assertion into an
// error wrapping domain.ErrOutOfOrder.
func (t *TrackTransformer) process(row domain.Row) (outcome domain.Outcome, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var oe *domain.OrderingError
		if e, ok := r.(error); ok && errors.As(e, &oe) {
			err = fmt.Errorf("transform: %w", oe)
			return
		}
		panic(r)
	}()
	return t.track.Process(row), nil
}

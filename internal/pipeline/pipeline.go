package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ais-track-etl/internal/domain"
	"github.com/couchcryptid/ais-track-etl/internal/observability"
)

const (
	initialBackoff      = 200 * time.Millisecond
	maxBackoff          = 5 * time.Second
	defaultFlushTimeout = 10 * time.Second
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Result is what a Transformer produced for one input message.
type Result struct {
	// Events are the output events completed by this message, in order.
	Events []domain.OutputEvent
	// Accepted is set when the message became the pending point.
	Accepted bool
	// Rejected is set when the message was dropped by validation.
	Rejected domain.RejectReason
}

// Transformer turns raw events into output events. Implementations may hold
// one message back: its output is only released by a later message or Flush.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (Result, error)
	Flush(ctx context.Context) (Result, error)
	Tally() *domain.Tally
}

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for backoff and batch timing.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithFlushTimeout bounds the final flush and commit on shutdown.
func WithFlushTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.flushTimeout = d }
}

// Pipeline orchestrates the extract-transform-load loop.
//
// Source offsets are committed only once every output derived from them has
// been loaded. The message holding the transformer's pending point, and every
// message after it, stays uncommitted until that point is released.
type Pipeline struct {
	extractor    BatchExtractor
	transformer  Transformer
	loader       BatchLoader
	logger       *slog.Logger
	metrics      *observability.Metrics
	clock        clockwork.Clock
	ready        atomic.Bool
	batchSize    int
	flushTimeout time.Duration

	held     []domain.RawEvent    // consumed, not yet committed
	holdFrom int                  // index in held of the pending message, -1 if none
	unsent   []domain.OutputEvent // produced but not loaded when the context ended
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:    e,
		transformer:  t,
		loader:       l,
		logger:       logger,
		metrics:      metrics,
		clock:        clockwork.NewRealClock(),
		batchSize:    batchSize,
		flushTimeout: defaultFlushTimeout,
		holdFrom:     -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the pipeline has processed a batch,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// Tally returns the rejected row counters of the running transform.
func (p *Pipeline) Tally() *domain.Tally {
	return p.transformer.Tally()
}

// Run executes the batch ETL loop until the context is cancelled, then
// flushes the pending point and commits the remaining offsets. It returns a
// non-nil error when the input violates the ordering contract or the final
// flush fails.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	defer p.logTally()

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return p.drain()
		default:
		}

		if err := p.processBatch(ctx, &backoff); err != nil {
			p.logger.Error("pipeline aborted", "error", err)
			return err
		}
	}
}

// processBatch runs one extract-transform-load cycle. Only unrecoverable
// errors are returned.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) error {
	start := p.clock.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Error("extract batch failed", "error", err)
		p.backoff(ctx, backoff)
		return nil
	}

	if len(rawBatch) == 0 {
		return nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	outBatch, err := p.transformBatch(ctx, rawBatch)
	if err != nil {
		return err
	}

	if !p.load(ctx, outBatch, backoff) {
		return nil
	}
	p.commitSettled(ctx)

	p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	return nil
}

// transformBatch feeds each message to the transformer in order. Messages
// that fail to decode are logged and skipped. An ordering violation or a
// released point that cannot be emitted stops the batch.
func (p *Pipeline) transformBatch(ctx context.Context, rawBatch []domain.RawEvent) ([]domain.OutputEvent, error) {
	outBatch := make([]domain.OutputEvent, 0, len(rawBatch))

	for _, raw := range rawBatch {
		p.held = append(p.held, raw)

		res, err := p.transformer.Transform(ctx, raw)
		if res.Accepted {
			p.holdFrom = len(p.held) - 1
		}
		if err != nil {
			if errors.Is(err, domain.ErrOutOfOrder) || errors.Is(err, ErrEmit) {
				return nil, fmt.Errorf("partition %d offset %d: %w", raw.Partition, raw.Offset, err)
			}
			p.logger.Warn("transform failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			continue
		}

		outBatch = append(outBatch, res.Events...)
	}

	return outBatch, nil
}

// load writes events, retrying with backoff. The transform state has already
// moved past these events, so they are kept for the final flush if the
// context ends first. Returns false in that case.
func (p *Pipeline) load(ctx context.Context, events []domain.OutputEvent, backoff *time.Duration) bool {
	if len(events) == 0 {
		return true
	}
	for {
		err := p.loader.LoadBatch(ctx, events)
		if err == nil {
			p.metrics.MessagesProduced.Add(float64(len(events)))
			*backoff = initialBackoff
			return true
		}
		p.logger.Error("load batch failed", "error", err, "batch_size", len(events), "retry_in", *backoff)
		if !p.backoff(ctx, backoff) {
			p.unsent = events
			return false
		}
	}
}

// drain flushes the pending point, loads anything left over and commits
// every held offset. It runs on a fresh context bounded by the flush timeout.
func (p *Pipeline) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()

	res, err := p.transformer.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush pending point: %w", err)
	}

	events := append(p.unsent, res.Events...)
	p.unsent = nil
	if len(events) > 0 {
		if err := p.loader.LoadBatch(ctx, events); err != nil {
			return fmt.Errorf("load final batch: %w", err)
		}
		p.metrics.MessagesProduced.Add(float64(len(events)))
	}

	p.holdFrom = -1
	p.commitSettled(ctx)
	return nil
}

// commitSettled commits held messages up to the one holding the pending
// point and keeps the rest.
func (p *Pipeline) commitSettled(ctx context.Context) {
	settled := len(p.held)
	if p.holdFrom >= 0 {
		settled = p.holdFrom
	}
	for _, raw := range p.held[:settled] {
		p.commitOffset(ctx, raw)
	}

	p.held = append(p.held[:0:0], p.held[settled:]...)
	if p.holdFrom >= 0 {
		p.holdFrom = 0
	}
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func (p *Pipeline) logTally() {
	tally := p.transformer.Tally()
	p.logger.Info("rejected rows", "total", tally.Total(), "by_reason", tally.String())
}

// backoff sleeps for the current backoff and advances it. Returns false if
// the context ended first.
func (p *Pipeline) backoff(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, p.clock, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrOutOfOrder reports consecutive same-vessel reports with decreasing
// timestamps. Input must be sorted by timestamp within each vessel.
var ErrOutOfOrder = errors.New("timestamps out of order")

// OrderingError carries the offending pair of timestamps.
type OrderingError struct {
	MMSI     string
	Previous int64
	Current  int64
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%s: mmsi %s: timestamp %d follows %d", ErrOutOfOrder, e.MMSI, e.Current, e.Previous)
}

func (e *OrderingError) Unwrap() error { return ErrOutOfOrder }

// TransformerConfig holds the tunables of the track transform.
type TransformerConfig struct {
	// MaxInterval is the largest gap, in seconds, between two reports of the
	// same vessel that still belong to one segment.
	MaxInterval   int64
	GridLevel     int
	MinScore      float64
	MaxScore      float64
	Normalization ScoreNormalization
}

// DefaultTransformerConfig returns the production defaults.
func DefaultTransformerConfig() TransformerConfig {
	return TransformerConfig{
		MaxInterval:   86400,
		GridLevel:     15,
		MinScore:      -15.0,
		MaxScore:      5.0,
		Normalization: NormalizeLinear,
	}
}

// Validate checks the configuration for internal consistency.
func (c TransformerConfig) Validate() error {
	if c.MaxInterval <= 0 {
		return errors.New("max interval must be positive")
	}
	if c.GridLevel < 0 || c.GridLevel > 30 {
		return fmt.Errorf("grid level %d outside [0, 30]", c.GridLevel)
	}
	if !(c.MinScore < c.MaxScore) {
		return fmt.Errorf("min score %g must be below max score %g", c.MinScore, c.MaxScore)
	}
	if _, err := ParseScoreNormalization(string(c.Normalization)); err != nil {
		return err
	}
	if c.Normalization == NormalizePiecewise && c.MaxScore > 5 {
		return fmt.Errorf("piecewise normalization requires max score <= 5, got %g", c.MaxScore)
	}
	return nil
}

// Outcome is the result of processing one input row.
type Outcome struct {
	// Emitted is the completed point released by this call, if any.
	Emitted *TrackPoint
	// Rejected is set when the input row was dropped.
	Rejected RejectReason
}

// Transformer validates, grids and segments a stream of AIS reports sorted by
// timestamp and grouped by vessel. Each accepted report is emitted exactly
// once, one accepted report later, or by Flush at end of stream.
//
// A Transformer is not safe for concurrent use.
type Transformer struct {
	grid  GridIndexer
	cfg   TransformerConfig
	tally *Tally

	// pending is the last accepted report not yet emitted; nil means no
	// report is pending.
	pending  *TrackPoint
	accepted int64
}

// NewTransformer creates a Transformer that grids points with grid.
func NewTransformer(grid GridIndexer, cfg TransformerConfig) *Transformer {
	return &Transformer{
		grid:  grid,
		cfg:   cfg,
		tally: NewTally(),
	}
}

// Tally returns the rejection counters owned by this transformer.
func (t *Transformer) Tally() *Tally { return t.tally }

// Accepted returns the number of rows that passed validation.
func (t *Transformer) Accepted() int64 { return t.accepted }

// Pending reports whether an accepted report is waiting to be emitted.
func (t *Transformer) Pending() bool { return t.pending != nil }

// Process consumes one input row. Rejected rows are counted and leave the
// transformer state untouched.
//
// Process panics with an *OrderingError when row precedes the pending report
// of the same vessel.
func (t *Transformer) Process(row Row) Outcome {
	point, reason := t.accept(row)
	if reason != "" {
		t.tally.Inc(reason)
		return Outcome{Rejected: reason}
	}
	t.accepted++
	return Outcome{Emitted: t.advance(point)}
}

// Flush ends the stream: the pending report, if any, is marked SEGMENT_END
// and returned. The transformer can then start a new stream.
func (t *Transformer) Flush() *TrackPoint {
	p := t.pending
	if p == nil {
		return nil
	}
	t.pending = nil
	p.Type = SegmentEnd
	return p
}

// advance runs the segment state machine for a newly accepted point and
// returns the previously pending point once its fields are final.
func (t *Transformer) advance(p *TrackPoint) *TrackPoint {
	prev := t.pending

	if prev != nil && prev.MMSI == p.MMSI {
		gap := p.Timestamp - prev.Timestamp
		if gap < 0 {
			panic(&OrderingError{MMSI: p.MMSI, Previous: prev.Timestamp, Current: p.Timestamp})
		}

		prev.NextGridcode = p.Gridcode
		if gap <= t.cfg.MaxInterval {
			half := gap / 2
			p.Type = Normal
			p.Interval = half
			prev.Interval += half
		} else {
			prev.Type = SegmentEnd
		}
	} else if prev != nil {
		prev.Type = SegmentEnd
	}

	t.pending = p
	return prev
}

// accept validates and normalizes row. Checks run in a fixed order and the
// first failure wins.
func (t *Transformer) accept(row Row) (*TrackPoint, RejectReason) {
	lat, ok := parseInRange(row, FieldLatitude, -90, 90)
	if !ok {
		return nil, RejectBadLatitude
	}
	lon, ok := parseInRange(row, FieldLongitude, -180, 180)
	if !ok {
		return nil, RejectBadLongitude
	}
	score, ok := parseInRange(row, FieldScore, t.cfg.MinScore, t.cfg.MaxScore)
	if !ok {
		return nil, RejectBadScore
	}
	ts, ok := parseTimestamp(row)
	if !ok {
		return nil, RejectBadTimestamp
	}
	mmsi, ok := row.Get(FieldMMSI)
	if !ok || strings.TrimSpace(mmsi) == "" {
		return nil, RejectMissingMMSI
	}

	lat = RoundTo6(lat)
	lon = RoundTo6(lon)

	return &TrackPoint{
		MMSI:      mmsi,
		Longitude: lon,
		Latitude:  lat,
		Timestamp: ts,
		Score:     NormalizeScore(t.cfg.Normalization, score, t.cfg.MinScore, t.cfg.MaxScore),
		Gridcode:  t.grid.GridIndex(lon, lat, t.cfg.GridLevel),
		Type:      SegmentStart,
		Source:    row,
	}, ""
}

// parseInRange parses field as a decimal float in [lo, hi]. Missing,
// malformed and NaN values fail.
func parseInRange(row Row, field string, lo, hi float64) (float64, bool) {
	s, ok := row.Get(field)
	if !ok {
		return 0, false
	}
	v, ok := parseDecimal(strings.TrimSpace(s))
	if !ok {
		return 0, false
	}
	if !(v >= lo && v <= hi) {
		return 0, false
	}
	return v, true
}

// parseTimestamp coerces the timestamp field to whole epoch seconds.
func parseTimestamp(row Row) (int64, bool) {
	s, ok := row.Get(FieldTimestamp)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, true
	}
	f, ok := parseDecimal(s)
	if !ok || math.IsInf(f, 0) || math.Abs(f) >= 1<<62 {
		return 0, false
	}
	return int64(f), true
}

// parseDecimal parses a base-10 float literal such as "-12.5" or "1e3".
// strconv.ParseFloat also takes hex mantissas, underscores and the words
// Inf and NaN; none of those are valid report values.
func parseDecimal(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9', c == '.', c == 'e', c == 'E', c == '+', c == '-':
		default:
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

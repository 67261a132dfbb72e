// Command validate checks a transformed AIS track fixture against the track
// invariants: value ranges, segment boundaries, interval attribution and
// next_gridcode chaining. When the raw fixture is given it also re-runs the
// domain transform and compares the output row by row.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -transformed data/mock/ais_track_points.json \
//	  -raw internal/pipeline/testdata/ais_reports.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/ais-track-etl/internal/adapter/s2grid"
	"github.com/couchcryptid/ais-track-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	transformedPath := flag.String("transformed", "", "path to transformed JSON fixture")
	rawPath := flag.String("raw", "", "optional path to the raw JSON fixture it was generated from")
	maxInterval := flag.Duration("max-interval", 24*time.Hour, "largest gap within one segment")
	gridLevel := flag.Int("grid-level", domain.DefaultTransformerConfig().GridLevel, "S2 cell level for gridcodes")
	flag.Parse()

	if *transformedPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := domain.DefaultTransformerConfig()
	cfg.MaxInterval = int64(*maxInterval / time.Second)
	cfg.GridLevel = *gridLevel
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(*transformedPath, *rawPath, cfg))
}

func run(transformedPath, rawPath string, cfg domain.TransformerConfig) int {
	fmt.Println("=== AIS Track Integrity Validation ===")
	fmt.Println()

	rows, err := loadRows(transformedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load transformed JSON: %v\n", err)
		return 1
	}
	points, schema := parsePoints(rows)

	phases := []*phase{
		schema,
		validateSegments(points, cfg.MaxInterval),
		validateIntervals(points, cfg.MaxInterval),
		validateChaining(points),
	}

	if rawPath != "" {
		raw, err := loadRows(rawPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load raw JSON: %v\n", err)
			return 1
		}
		phases = append(phases, validateReproduction(raw, rows, cfg))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d transformed\n", len(rows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadRows(path string) ([]domain.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []domain.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// point is the subset of an output row the invariants are checked on.
type point struct {
	mmsi         string
	timestamp    int64
	latitude     float64
	longitude    float64
	score        float64
	gridcode     string
	nextGridcode string
	interval     int64
	segment      domain.SegmentType
}

// ── Phase 1: Schema ──

func parsePoints(rows []domain.Row) ([]point, *phase) {
	p := &phase{name: "Phase 1: Schema (fields and ranges)"}
	points := make([]point, len(rows))

	for i, row := range rows {
		pf := func(format string, args ...any) {
			p.errorf("record %d: "+format, append([]any{i}, args...)...)
		}
		get := func(key string) string {
			v, ok := row.Get(key)
			if !ok && key != domain.FieldNextGridcode {
				pf("missing %s", key)
			}
			return v
		}
		num := func(key string, lo, hi float64) float64 {
			v, err := strconv.ParseFloat(get(key), 64)
			if err != nil {
				pf("%s is not a number", key)
				return 0
			}
			if v < lo || v > hi {
				pf("%s %g outside [%g, %g]", key, v, lo, hi)
			}
			if v != domain.RoundTo6(v) {
				pf("%s %g has more than 6 decimals", key, v)
			}
			return v
		}
		integer := func(key string) int64 {
			v, err := strconv.ParseInt(get(key), 10, 64)
			if err != nil {
				pf("%s is not an integer", key)
			}
			return v
		}

		pt := point{
			mmsi:         get(domain.FieldMMSI),
			timestamp:    integer(domain.FieldTimestamp),
			latitude:     num(domain.FieldLatitude, -90, 90),
			longitude:    num(domain.FieldLongitude, -180, 180),
			score:        num(domain.FieldScore, 0, 1),
			gridcode:     get(domain.FieldGridcode),
			nextGridcode: get(domain.FieldNextGridcode),
			interval:     integer(domain.FieldInterval),
			segment:      domain.SegmentType(get(domain.FieldType)),
		}
		if pt.mmsi == "" {
			pf("mmsi is empty")
		}
		if pt.gridcode == "" {
			pf("gridcode is empty")
		}
		if pt.interval < 0 {
			pf("interval %d is negative", pt.interval)
		}
		switch pt.segment {
		case domain.SegmentStart, domain.Normal, domain.SegmentEnd:
		default:
			pf("type %q not in {SEGMENT_START, NORMAL, SEGMENT_END}", pt.segment)
		}
		points[i] = pt
	}
	return points, p
}

// sameSegment reports whether b continues a's segment.
func sameSegment(a, b point, maxInterval int64) bool {
	return a.mmsi == b.mmsi && b.timestamp-a.timestamp <= maxInterval
}

// ── Phase 2: Segments ──

func validateSegments(points []point, maxInterval int64) *phase {
	p := &phase{name: "Phase 2: Segment boundaries"}

	for i, pt := range points {
		joinsPrev := i > 0 && sameSegment(points[i-1], pt, maxInterval)
		joinsNext := i+1 < len(points) && sameSegment(pt, points[i+1], maxInterval)

		if i > 0 && points[i-1].mmsi == pt.mmsi && pt.timestamp < points[i-1].timestamp {
			p.errorf("record %d: timestamp %d precedes %d for mmsi %s", i, pt.timestamp, points[i-1].timestamp, pt.mmsi)
		}

		var want domain.SegmentType
		switch {
		case !joinsNext:
			want = domain.SegmentEnd
		case !joinsPrev:
			want = domain.SegmentStart
		default:
			want = domain.Normal
		}
		if pt.segment != want {
			p.errorf("record %d (mmsi %s, ts %d): type %s, expected %s", i, pt.mmsi, pt.timestamp, pt.segment, want)
		}
	}
	return p
}

// ── Phase 3: Intervals ──

func validateIntervals(points []point, maxInterval int64) *phase {
	p := &phase{name: "Phase 3: Interval attribution"}

	for i, pt := range points {
		var want int64
		if i > 0 && sameSegment(points[i-1], pt, maxInterval) {
			want += (pt.timestamp - points[i-1].timestamp) / 2
		}
		if i+1 < len(points) && sameSegment(pt, points[i+1], maxInterval) {
			want += (points[i+1].timestamp - pt.timestamp) / 2
		}
		if pt.interval != want {
			p.errorf("record %d (mmsi %s, ts %d): interval %d, expected %d", i, pt.mmsi, pt.timestamp, pt.interval, want)
		}
	}
	return p
}

// ── Phase 4: Gridcode chaining ──

func validateChaining(points []point) *phase {
	p := &phase{name: "Phase 4: next_gridcode chaining"}

	for i, pt := range points {
		if i+1 < len(points) && points[i+1].mmsi == pt.mmsi {
			if pt.nextGridcode != points[i+1].gridcode {
				p.errorf("record %d: next_gridcode %q, expected %q", i, pt.nextGridcode, points[i+1].gridcode)
			}
			continue
		}
		if pt.nextGridcode != "" {
			p.errorf("record %d: last point of mmsi %s has next_gridcode %q", i, pt.mmsi, pt.nextGridcode)
		}
	}
	return p
}

// ── Phase 5: Reproduction ──

func validateReproduction(raw, transformed []domain.Row, cfg domain.TransformerConfig) *phase {
	p := &phase{name: "Phase 5: Reproduction (raw → transformed)"}

	transformer := domain.NewTransformer(s2grid.NewIndex(), cfg)
	var want []domain.TrackPoint
	for i, row := range raw {
		out, err := process(transformer, row)
		if err != nil {
			p.errorf("raw record %d: %v", i, err)
			return p
		}
		if out.Emitted != nil {
			want = append(want, *out.Emitted)
		}
	}
	if pt := transformer.Flush(); pt != nil {
		want = append(want, *pt)
	}

	if len(want) != len(transformed) {
		p.errorf("count: expected %d, got %d", len(want), len(transformed))
	}
	for i := range min(len(want), len(transformed)) {
		compareRows(p, i, want[i].Row(), transformed[i])
	}
	if transformer.Tally().Total() > 0 {
		fmt.Printf("  Note: raw fixture has %d rejected report(s): %s\n", transformer.Tally().Total(), transformer.Tally())
	}
	return p
}

// compareRows checks key order and values. A null next_gridcode decodes to
// an absent key, which matches an empty expected value.
func compareRows(p *phase, i int, want, got domain.Row) {
	var wantKeys []string
	for _, k := range want.Keys() {
		if v, _ := want.Get(k); k == domain.FieldNextGridcode && v == "" {
			continue
		}
		wantKeys = append(wantKeys, k)
	}
	if !slices.Equal(wantKeys, got.Keys()) {
		p.errorf("record %d: keys %v, expected %v", i, got.Keys(), wantKeys)
		return
	}
	for _, k := range wantKeys {
		w, _ := want.Get(k)
		g, _ := got.Get(k)
		if w != g {
			p.errorf("record %d: %s %q, expected %q", i, k, g, w)
		}
	}
}

func process(t *domain.Transformer, row domain.Row) (out domain.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			oe, ok := r.(*domain.OrderingError)
			if !ok {
				panic(r)
			}
			err = oe
		}
	}()
	return t.Process(row), nil
}

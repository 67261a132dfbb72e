package domain

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMMSI = "123"

// fakeGrid renders the point itself so tests can predict gridcodes.
type fakeGrid struct {
	calls int
}

func (g *fakeGrid) GridIndex(lon, lat float64, level int) string {
	g.calls++
	return fmt.Sprintf("%g:%g@%d", lon, lat, level)
}

func newTestTransformer() (*Transformer, *fakeGrid) {
	grid := &fakeGrid{}
	return NewTransformer(grid, DefaultTransformerConfig()), grid
}

func report(mmsi string, ts int64, lat, lon, score string) Row {
	return NewRow(
		FieldMMSI, mmsi,
		FieldTimestamp, strconv.FormatInt(ts, 10),
		FieldLatitude, lat,
		FieldLongitude, lon,
		FieldScore, score,
	)
}

func validReport(mmsi string, ts int64) Row {
	return report(mmsi, ts, "10.0", "20.0", "1.0")
}

// drain feeds rows through tr and returns everything emitted, flush included.
func drain(t *testing.T, tr *Transformer, rows ...Row) []*TrackPoint {
	t.Helper()
	var out []*TrackPoint
	for _, r := range rows {
		if p := tr.Process(r).Emitted; p != nil {
			out = append(out, p)
		}
	}
	if p := tr.Flush(); p != nil {
		out = append(out, p)
	}
	return out
}

func TestTransformer_TwoReportScenario(t *testing.T) {
	tr, _ := newTestTransformer()

	first := tr.Process(report(testMMSI, 1000, "10.0", "20.0", "2.0"))
	assert.Nil(t, first.Emitted)
	assert.Empty(t, first.Rejected)
	assert.True(t, tr.Pending())

	second := tr.Process(report(testMMSI, 1500, "10.1", "20.1", "1.0"))
	require.NotNil(t, second.Emitted)
	p1 := second.Emitted
	assert.Equal(t, testMMSI, p1.MMSI)
	assert.Equal(t, int64(1000), p1.Timestamp)
	assert.Equal(t, SegmentStart, p1.Type)
	assert.Equal(t, int64(250), p1.Interval)
	assert.Equal(t, "20:10@15", p1.Gridcode)
	assert.Equal(t, "20.1:10.1@15", p1.NextGridcode)
	assert.Equal(t, 0.85, p1.Score)

	p2 := tr.Flush()
	require.NotNil(t, p2)
	assert.Equal(t, SegmentEnd, p2.Type)
	assert.Equal(t, int64(250), p2.Interval)
	assert.Empty(t, p2.NextGridcode)
	assert.Equal(t, 0.8, p2.Score)
	assert.False(t, tr.Pending())
}

func TestTransformer_VesselChangeClosesSegment(t *testing.T) {
	tr, _ := newTestTransformer()

	assert.Nil(t, tr.Process(validReport("A", 1000)).Emitted)

	out := tr.Process(validReport("B", 1100))
	require.NotNil(t, out.Emitted)
	assert.Equal(t, "A", out.Emitted.MMSI)
	assert.Equal(t, SegmentEnd, out.Emitted.Type)
	assert.Equal(t, int64(0), out.Emitted.Interval)
	assert.Empty(t, out.Emitted.NextGridcode, "next_gridcode never crosses vessels")

	last := tr.Flush()
	require.NotNil(t, last)
	assert.Equal(t, "B", last.MMSI)
	assert.Equal(t, SegmentEnd, last.Type)
	assert.Equal(t, int64(0), last.Interval)
}

func TestTransformer_VesselChangeStartsFreshSegment(t *testing.T) {
	tr, _ := newTestTransformer()

	points := drain(t, tr,
		validReport("A", 1000),
		validReport("B", 1100),
		validReport("B", 1200),
	)

	require.Len(t, points, 3)
	assert.Equal(t, SegmentEnd, points[0].Type)
	assert.Equal(t, "B", points[1].MMSI)
	assert.Equal(t, SegmentStart, points[1].Type)
	assert.Equal(t, int64(50), points[1].Interval)
	assert.Equal(t, SegmentEnd, points[2].Type)
	assert.Equal(t, int64(50), points[2].Interval)
}

func TestTransformer_LargeGapSplitsSegment(t *testing.T) {
	tr, _ := newTestTransformer()
	maxInterval := DefaultTransformerConfig().MaxInterval

	points := drain(t, tr,
		validReport(testMMSI, 0),
		validReport(testMMSI, 100),
		validReport(testMMSI, 100+maxInterval+1),
		validReport(testMMSI, 100+maxInterval+61),
	)

	require.Len(t, points, 4)

	assert.Equal(t, SegmentStart, points[0].Type)
	assert.Equal(t, int64(50), points[0].Interval)

	// The gap to the third point is too large: the pair leaves intervals alone.
	assert.Equal(t, SegmentEnd, points[1].Type)
	assert.Equal(t, int64(50), points[1].Interval)
	assert.NotEmpty(t, points[1].NextGridcode)

	assert.Equal(t, SegmentStart, points[2].Type)
	assert.Equal(t, int64(30), points[2].Interval)

	assert.Equal(t, SegmentEnd, points[3].Type)
	assert.Equal(t, int64(30), points[3].Interval)
}

func TestTransformer_GapAtMaxIntervalStaysInSegment(t *testing.T) {
	tr, _ := newTestTransformer()
	maxInterval := DefaultTransformerConfig().MaxInterval

	points := drain(t, tr, validReport(testMMSI, 0), validReport(testMMSI, maxInterval))

	require.Len(t, points, 2)
	assert.Equal(t, SegmentStart, points[0].Type)
	assert.Equal(t, maxInterval/2, points[0].Interval)
	assert.Equal(t, maxInterval/2, points[1].Interval)
}

func TestTransformer_SingleVesselStream(t *testing.T) {
	timestamps := []int64{1000, 1060, 1180, 1180, 1500, 2000, 2010}

	tr, _ := newTestTransformer()
	rows := make([]Row, len(timestamps))
	for i, ts := range timestamps {
		rows[i] = validReport(testMMSI, ts)
	}

	var emittedByProcess int
	for _, r := range rows {
		if tr.Process(r).Emitted != nil {
			emittedByProcess++
		}
	}
	assert.Equal(t, len(rows)-1, emittedByProcess)
	require.NotNil(t, tr.Flush())

	points := drain(t, NewTransformer(&fakeGrid{}, DefaultTransformerConfig()), rows...)
	require.Len(t, points, len(rows))

	var starts, ends int
	var intervalSum int64
	for i, p := range points {
		assert.Equal(t, timestamps[i], p.Timestamp, "emission preserves input order")
		switch p.Type {
		case SegmentStart:
			starts++
			assert.Equal(t, 0, i)
		case SegmentEnd:
			ends++
			assert.Equal(t, len(points)-1, i)
		default:
			assert.Equal(t, Normal, p.Type)
		}
		intervalSum += p.Interval
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)
	// Every gap above is even, so halves add back up exactly.
	assert.Equal(t, timestamps[len(timestamps)-1]-timestamps[0], intervalSum)
}

func TestTransformer_OddGapTruncates(t *testing.T) {
	tr, _ := newTestTransformer()

	points := drain(t, tr, validReport(testMMSI, 1000), validReport(testMMSI, 1501))

	require.Len(t, points, 2)
	assert.Equal(t, int64(250), points[0].Interval)
	assert.Equal(t, int64(250), points[1].Interval)
}

func TestTransformer_InteriorIntervalCollectsBothHalves(t *testing.T) {
	tr, _ := newTestTransformer()

	points := drain(t, tr,
		validReport(testMMSI, 0),
		validReport(testMMSI, 100),
		validReport(testMMSI, 400),
	)

	require.Len(t, points, 3)
	assert.Equal(t, int64(50), points[0].Interval)
	assert.Equal(t, int64(200), points[1].Interval)
	assert.Equal(t, Normal, points[1].Type)
	assert.Equal(t, int64(150), points[2].Interval)
}

func TestTransformer_OutOfOrderPanics(t *testing.T) {
	tr, _ := newTestTransformer()
	tr.Process(validReport(testMMSI, 2000))

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		tr.Process(validReport(testMMSI, 1999))
	}()

	require.NotNil(t, recovered, "decreasing timestamps must abort")
	err, ok := recovered.(error)
	require.True(t, ok)
	require.ErrorIs(t, err, ErrOutOfOrder)

	var oe *OrderingError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, int64(2000), oe.Previous)
	assert.Equal(t, int64(1999), oe.Current)

	// The pending report is untouched.
	p := tr.Flush()
	require.NotNil(t, p)
	assert.Equal(t, int64(2000), p.Timestamp)
	assert.Equal(t, int64(0), p.Interval)
	assert.Empty(t, p.NextGridcode)
}

func TestTransformer_OutOfOrderAcrossVesselsIsAllowed(t *testing.T) {
	tr, _ := newTestTransformer()

	assert.NotPanics(t, func() {
		drain(t, tr, validReport("A", 5000), validReport("B", 1000))
	})
}

func TestTransformer_Validation(t *testing.T) {
	tests := []struct {
		name   string
		row    Row
		reason RejectReason
	}{
		{"latitude too high", report(testMMSI, 1, "90.0001", "0", "0"), RejectBadLatitude},
		{"latitude too low", report(testMMSI, 1, "-91", "0", "0"), RejectBadLatitude},
		{"latitude not numeric", report(testMMSI, 1, "north", "0", "0"), RejectBadLatitude},
		{"latitude NaN", report(testMMSI, 1, "NaN", "0", "0"), RejectBadLatitude},
		{"latitude empty", report(testMMSI, 1, "", "0", "0"), RejectBadLatitude},
		{"latitude missing", NewRow(FieldMMSI, testMMSI, FieldTimestamp, "1", FieldLongitude, "0", FieldScore, "0"), RejectBadLatitude},
		{"longitude too high", report(testMMSI, 1, "0", "180.5", "0"), RejectBadLongitude},
		{"longitude too low", report(testMMSI, 1, "0", "-181", "0"), RejectBadLongitude},
		{"longitude infinite", report(testMMSI, 1, "0", "Inf", "0"), RejectBadLongitude},
		{"score above max", report(testMMSI, 1, "0", "0", "5.01"), RejectBadScore},
		{"score below min", report(testMMSI, 1, "0", "0", "-15.5"), RejectBadScore},
		{"score not numeric", report(testMMSI, 1, "0", "0", "high"), RejectBadScore},
		{"score hex float", report(testMMSI, 1, "0", "0", "0x1p2"), RejectBadScore},
		{"score with underscore", report(testMMSI, 1, "0", "0", "0x_1p0"), RejectBadScore},
		{"latitude hex float", report(testMMSI, 1, "0x1.8p3", "0", "0"), RejectBadLatitude},
		{"longitude hex float", report(testMMSI, 1, "0", "-0x10", "0"), RejectBadLongitude},
		{"latitude checked before score", report(testMMSI, 1, "100", "0", "99"), RejectBadLatitude},
		{"longitude checked before score", report(testMMSI, 1, "0", "200", "99"), RejectBadLongitude},
		{"timestamp not numeric", NewRow(FieldMMSI, testMMSI, FieldTimestamp, "yesterday", FieldLatitude, "0", FieldLongitude, "0", FieldScore, "0"), RejectBadTimestamp},
		{"timestamp hex float", NewRow(FieldMMSI, testMMSI, FieldTimestamp, "0x1p10", FieldLatitude, "0", FieldLongitude, "0", FieldScore, "0"), RejectBadTimestamp},
		{"timestamp missing", NewRow(FieldMMSI, testMMSI, FieldLatitude, "0", FieldLongitude, "0", FieldScore, "0"), RejectBadTimestamp},
		{"mmsi missing", NewRow(FieldTimestamp, "1", FieldLatitude, "0", FieldLongitude, "0", FieldScore, "0"), RejectMissingMMSI},
		{"mmsi blank", report("  ", 1, "0", "0", "0"), RejectMissingMMSI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, grid := newTestTransformer()

			out := tr.Process(tt.row)

			assert.Nil(t, out.Emitted)
			assert.Equal(t, tt.reason, out.Rejected)
			assert.Equal(t, int64(1), tr.Tally().Count(tt.reason))
			assert.Equal(t, int64(1), tr.Tally().Total())
			assert.Equal(t, int64(0), tr.Accepted())
			assert.False(t, tr.Pending())
			assert.Zero(t, grid.calls, "rejected rows are never gridded")
		})
	}
}

func TestTransformer_BoundaryValuesAccepted(t *testing.T) {
	tr, _ := newTestTransformer()

	rows := []Row{
		report(testMMSI, 1, "90", "180", "5"),
		report(testMMSI, 2, "-90", "-180", "-15"),
		report(testMMSI, 3, " 45.5 ", " 12 ", " 0 "),
		report(testMMSI, 4, "+1.5e1", "-1E2", ".5"),
	}
	for _, r := range rows {
		assert.Empty(t, tr.Process(r).Rejected)
	}
	assert.Equal(t, int64(4), tr.Accepted())
	assert.Zero(t, tr.Tally().Total())
}

func TestTransformer_RejectedRowIsTransparent(t *testing.T) {
	tr, _ := newTestTransformer()

	points := drain(t, tr,
		validReport(testMMSI, 1000),
		report(testMMSI, 1200, "95", "20", "1"),
		validReport(testMMSI, 1400),
	)

	require.Len(t, points, 2)
	assert.Equal(t, SegmentStart, points[0].Type)
	assert.Equal(t, int64(200), points[0].Interval, "gap is measured across the dropped row")
	assert.Equal(t, int64(200), points[1].Interval)
	assert.Equal(t, int64(1), tr.Tally().Count(RejectBadLatitude))
}

func TestTransformer_RejectedRowDoesNotBreakVesselRun(t *testing.T) {
	tr, _ := newTestTransformer()

	points := drain(t, tr,
		validReport("A", 1000),
		report("B", 1100, "0", "0", "100"),
		validReport("A", 1200),
	)

	require.Len(t, points, 2)
	assert.Equal(t, SegmentStart, points[0].Type)
	assert.Equal(t, int64(100), points[0].Interval)
	assert.Equal(t, int64(1), tr.Tally().Count(RejectBadScore))
}

func TestTransformer_EqualTimestamps(t *testing.T) {
	tr, _ := newTestTransformer()

	points := drain(t, tr,
		validReport(testMMSI, 1000),
		validReport(testMMSI, 1000),
		validReport(testMMSI, 1000),
	)

	require.Len(t, points, 3)
	assert.Equal(t, SegmentStart, points[0].Type)
	assert.Equal(t, Normal, points[1].Type)
	assert.Equal(t, SegmentEnd, points[2].Type)
	for _, p := range points {
		assert.Equal(t, int64(0), p.Interval)
	}
}

func TestTransformer_Normalization(t *testing.T) {
	tr, _ := newTestTransformer()

	tr.Process(NewRow(
		FieldMMSI, testMMSI,
		FieldTimestamp, "1714130000.9",
		FieldLatitude, "10.1234567",
		FieldLongitude, "-20.98765449",
		FieldScore, "-15",
	))
	p := tr.Flush()

	require.NotNil(t, p)
	assert.Equal(t, int64(1714130000), p.Timestamp)
	assert.Equal(t, 10.123457, p.Latitude)
	assert.Equal(t, -20.987654, p.Longitude)
	assert.Equal(t, 0.0, p.Score)
	assert.Equal(t, "-20.987654:10.123457@15", p.Gridcode)
}

func TestTransformer_OutputRowKeepsPassThroughFields(t *testing.T) {
	tr, _ := newTestTransformer()

	tr.Process(NewRow(
		FieldMMSI, testMMSI,
		"navstat", "7",
		FieldLongitude, "20.0000001",
		FieldLatitude, "10",
		FieldTimestamp, "1000",
		"sog", "3.4",
		FieldScore, "5",
		"cog", "",
	))
	row := tr.Flush().Row()

	assert.Equal(t, []string{
		FieldMMSI, "navstat", FieldLongitude, FieldLatitude, FieldTimestamp, "sog", FieldScore, "cog",
		FieldGridcode, FieldNextGridcode, FieldInterval, FieldType,
	}, row.Keys())

	get := func(k string) string {
		v, ok := row.Get(k)
		require.True(t, ok, k)
		return v
	}
	assert.Equal(t, "7", get("navstat"))
	assert.Equal(t, "3.4", get("sog"))
	assert.Equal(t, "", get("cog"))
	assert.Equal(t, "20", get(FieldLongitude))
	assert.Equal(t, "10", get(FieldLatitude))
	assert.Equal(t, "1", get(FieldScore))
	assert.Equal(t, "0", get(FieldInterval))
	assert.Equal(t, "SEGMENT_END", get(FieldType))
}

func TestTransformer_FlushWithoutInput(t *testing.T) {
	tr, _ := newTestTransformer()
	assert.Nil(t, tr.Flush())

	tr.Process(report(testMMSI, 1, "100", "0", "0"))
	assert.Nil(t, tr.Flush(), "a stream of rejected rows flushes nothing")
}

func TestTransformer_ReusableAfterFlush(t *testing.T) {
	tr, _ := newTestTransformer()

	require.Len(t, drain(t, tr, validReport(testMMSI, 5000)), 1)

	// A new stream may restart at an earlier timestamp.
	points := drain(t, tr, validReport(testMMSI, 1000), validReport(testMMSI, 1010))
	require.Len(t, points, 2)
	assert.Equal(t, SegmentStart, points[0].Type)
	assert.Equal(t, int64(3), tr.Accepted())
}

func TestTransformer_PiecewiseConfig(t *testing.T) {
	cfg := DefaultTransformerConfig()
	cfg.Normalization = NormalizePiecewise
	tr := NewTransformer(&fakeGrid{}, cfg)

	tr.Process(report(testMMSI, 1, "0", "0", "3"))
	p := tr.Flush()

	require.NotNil(t, p)
	assert.Equal(t, 0.8, p.Score)
}

func TestTransformerConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TransformerConfig)
		errMsg string
	}{
		{"defaults", func(*TransformerConfig) {}, ""},
		{"zero max interval", func(c *TransformerConfig) { c.MaxInterval = 0 }, "max interval"},
		{"grid level too deep", func(c *TransformerConfig) { c.GridLevel = 31 }, "grid level"},
		{"negative grid level", func(c *TransformerConfig) { c.GridLevel = -1 }, "grid level"},
		{"inverted score range", func(c *TransformerConfig) { c.MinScore, c.MaxScore = 5, -15 }, "min score"},
		{"unknown normalization", func(c *TransformerConfig) { c.Normalization = "sigmoid" }, "sigmoid"},
		{"piecewise over five", func(c *TransformerConfig) {
			c.Normalization = NormalizePiecewise
			c.MaxScore = 10
		}, "piecewise"},
		{"piecewise legacy range", func(c *TransformerConfig) {
			c.Normalization = NormalizePiecewise
			c.MinScore = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTransformerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

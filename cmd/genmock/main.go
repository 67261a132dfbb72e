// Command genmock reads an AIS position report CSV export and generates the
// JSON fixtures used by the pipeline tests and cmd/validate. It sorts reports
// by vessel and timestamp, then runs the real domain transform so the
// transformed fixture matches pipeline behavior.
//
// The CSV header must name at least mmsi, timestamp, longitude, latitude and
// score; other columns pass through in header order.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv data/ais/fishing_vessels.csv \
//	  -raw-out internal/pipeline/testdata/ais_reports.json \
//	  -transformed-out data/mock/ais_track_points.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/couchcryptid/ais-track-etl/internal/adapter/s2grid"
	"github.com/couchcryptid/ais-track-etl/internal/domain"
)

var requiredColumns = []string{
	domain.FieldMMSI,
	domain.FieldTimestamp,
	domain.FieldLongitude,
	domain.FieldLatitude,
	domain.FieldScore,
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "AIS position report CSV file")
	rawOut := flag.String("raw-out", "", "output path for the sorted raw JSON fixture")
	transformedOut := flag.String("transformed-out", "", "output path for the transformed JSON fixture")
	limit := flag.Int("limit", 0, "keep at most this many reports after sorting (0 keeps all)")
	gridLevel := flag.Int("grid-level", domain.DefaultTransformerConfig().GridLevel, "S2 cell level for gridcodes")
	flag.Parse()

	if *csvPath == "" || *rawOut == "" || *transformedOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -csv, -raw-out, -transformed-out")
	}

	rows, short, err := readCSV(*csvPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *csvPath, err)
	}
	if len(short) > 0 {
		log.Printf("skipped %s short CSV record(s), data records %v", humanize.Comma(int64(len(short))), short)
	}
	sortReports(rows)
	if *limit > 0 && len(rows) > *limit {
		rows = rows[:*limit]
	}
	log.Printf("read %s reports", humanize.Comma(int64(len(rows))))

	cfg := domain.DefaultTransformerConfig()
	cfg.GridLevel = *gridLevel
	if err := cfg.Validate(); err != nil {
		return err
	}
	transformer := domain.NewTransformer(s2grid.NewIndex(), cfg)

	points := make([]domain.TrackPoint, 0, len(rows))
	for i, row := range rows {
		out, err := process(transformer, row)
		if err != nil {
			return fmt.Errorf("report %d: %w", i, err)
		}
		if out.Emitted != nil {
			points = append(points, *out.Emitted)
		}
	}
	if p := transformer.Flush(); p != nil {
		points = append(points, *p)
	}

	if err := writeJSON(*rawOut, rows); err != nil {
		return fmt.Errorf("writing raw fixture: %w", err)
	}
	log.Printf("wrote raw fixture: %s", *rawOut)

	if err := writeJSON(*transformedOut, points); err != nil {
		return fmt.Errorf("writing transformed fixture: %w", err)
	}
	log.Printf("wrote transformed fixture: %s", *transformedOut)

	printStats(points, transformer.Tally(), len(short))
	return nil
}

// readCSV returns one row per CSV record. Records with fewer fields than the
// header are skipped; their 1-based data record numbers are returned.
func readCSV(path string) ([]domain.Row, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("no data rows")
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	for _, col := range requiredColumns {
		if !slices.Contains(header, col) {
			return nil, nil, fmt.Errorf("missing column %q", col)
		}
	}

	rows := make([]domain.Row, 0, len(records)-1)
	var short []int
	for i, rec := range records[1:] {
		if len(rec) < len(header) {
			short = append(short, i+1)
			continue
		}
		var row domain.Row
		for j, h := range header {
			row.Set(h, strings.TrimSpace(rec[j]))
		}
		rows = append(rows, row)
	}
	return rows, short, nil
}

// sortReports orders reports by vessel, then timestamp. Reports whose
// timestamp does not parse sort first within their vessel; the transform
// drops them.
func sortReports(rows []domain.Row) {
	slices.SortStableFunc(rows, func(a, b domain.Row) int {
		am, _ := a.Get(domain.FieldMMSI)
		bm, _ := b.Get(domain.FieldMMSI)
		if c := strings.Compare(am, bm); c != 0 {
			return c
		}
		return compareInt(sortTimestamp(a), sortTimestamp(b))
	})
}

func sortTimestamp(row domain.Row) int64 {
	s, _ := row.Get(domain.FieldTimestamp)
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return -1 << 63
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// process runs one report through the transform, converting the ordering
// assertion into an error.
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

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(points []domain.TrackPoint, tally *domain.Tally, shortRecords int) {
	typeCounts := map[domain.SegmentType]int64{}
	vessels := map[string]bool{}
	cells := map[string]bool{}
	var totalInterval int64
	for i := range points {
		typeCounts[points[i].Type]++
		vessels[points[i].MMSI] = true
		cells[points[i].Gridcode] = true
		totalInterval += points[i].Interval
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Emitted: %s\n", humanize.Comma(int64(len(points))))
	fmt.Printf("By type: SEGMENT_START=%d, NORMAL=%d, SEGMENT_END=%d\n",
		typeCounts[domain.SegmentStart], typeCounts[domain.Normal], typeCounts[domain.SegmentEnd])
	fmt.Printf("Vessels: %d, distinct cells: %d\n", len(vessels), len(cells))
	fmt.Printf("Total tracked time: %s hours\n", humanize.Comma(totalInterval/3600))
	fmt.Printf("Rejected: %s (%s)\n", humanize.Comma(tally.Total()), tally)
	fmt.Printf("Short CSV records skipped: %s\n", humanize.Comma(int64(shortRecords)))
}

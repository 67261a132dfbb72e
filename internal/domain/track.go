package domain

import "strconv"

// Field names of the AIS row contract.
const (
	FieldMMSI         = "mmsi"
	FieldLongitude    = "longitude"
	FieldLatitude     = "latitude"
	FieldTimestamp    = "timestamp"
	FieldScore        = "score"
	FieldGridcode     = "gridcode"
	FieldNextGridcode = "next_gridcode"
	FieldInterval     = "interval"
	FieldType         = "type"
)

// SegmentType marks where a point sits within a vessel track segment.
type SegmentType string

const (
	SegmentStart SegmentType = "SEGMENT_START"
	Normal       SegmentType = "NORMAL"
	SegmentEnd   SegmentType = "SEGMENT_END"
)

// TrackPoint is an accepted, normalized AIS position report.
type TrackPoint struct {
	MMSI      string
	Longitude float64 // rounded to 6 decimal places
	Latitude  float64 // rounded to 6 decimal places
	Timestamp int64   // Unix epoch seconds
	Score     float64 // normalized to [0, 1]

	Gridcode     string
	NextGridcode string // empty when no same-vessel successor is known
	Interval     int64  // seconds attributed to this point
	Type         SegmentType

	// Source is the input row; fields the transform does not interpret pass
	// through unchanged.
	Source Row
}

// Row renders the output row: input keys in input order with the normalized
// latitude, longitude, score and timestamp, followed by the computed fields.
func (p TrackPoint) Row() Row {
	out := p.Source.Clone()
	out.Set(FieldMMSI, p.MMSI)
	out.Set(FieldLongitude, formatFloat(p.Longitude))
	out.Set(FieldLatitude, formatFloat(p.Latitude))
	out.Set(FieldTimestamp, strconv.FormatInt(p.Timestamp, 10))
	out.Set(FieldScore, formatFloat(p.Score))
	out.Set(FieldGridcode, p.Gridcode)
	out.Set(FieldNextGridcode, p.NextGridcode)
	out.Set(FieldInterval, strconv.FormatInt(p.Interval, 10))
	out.Set(FieldType, string(p.Type))
	return out
}

// MarshalJSON encodes the output row; an unknown next_gridcode is null.
func (p TrackPoint) MarshalJSON() ([]byte, error) {
	return p.Row().marshal(func(key, value string) bool {
		return key == FieldNextGridcode && value == ""
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ParseRawEvent decodes a source message holding one flat JSON AIS report.
func ParseRawEvent(raw RawEvent) (Row, error) {
	var row Row
	if err := json.Unmarshal(raw.Value, &row); err != nil {
		return Row{}, fmt.Errorf("parse raw event: %w", err)
	}
	return row, nil
}

// SerializeTrackPoint marshals a completed point for the sink topic. Messages
// are keyed by MMSI so a vessel's points share a partition.
func SerializeTrackPoint(p TrackPoint) (OutputEvent, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize track point: %w", err)
	}
	return OutputEvent{
		Key:   []byte(p.MMSI),
		Value: data,
		Headers: map[string]string{
			"type":         string(p.Type),
			"processed_at": clock.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Package s2grid assigns points to S2 cells.
package s2grid

import "github.com/golang/geo/s2"

// Index implements domain.GridIndexer with S2 cells. A gridcode is the token
// of the cell containing the point at the requested level; level 15 cells are
// roughly 280 m across.
type Index struct{}

// NewIndex returns an S2 grid index.
func NewIndex() Index { return Index{} }

// GridIndex returns the token of the level-level S2 cell containing (lat, lon).
func (Index) GridIndex(lon, lat float64, level int) string {
	return CellID(lon, lat, level).ToToken()
}

// CellID returns the S2 cell containing (lat, lon) at level.
func CellID(lon, lat float64, level int) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(level)
}

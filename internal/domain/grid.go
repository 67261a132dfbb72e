package domain

// GridIndexer maps a geographic point to the identifier of the fixed-size
// spatial cell containing it. Implementations must be deterministic.
type GridIndexer interface {
	GridIndex(lon, lat float64, level int) string
}

// Package domain turns raw AIS position reports into gridded, segmented
// vessel track points.
//
// # Data Source
//
// Reports arrive as flat JSON objects, one per Kafka message, produced by an
// upstream collector from decoded AIS feeds joined with a per-report fishing
// likelihood score. Values are strings; numeric JSON values are accepted and
// kept as their literal text.
//
//	{"mmsi":"123456789","timestamp":"1714130000","longitude":"20.1",
//	 "latitude":"10.1","score":"1.0","navstat":"7","sog":"3.4","cog":"81.2"}
//
// Required fields are mmsi, longitude, latitude, timestamp and score. Any
// other field (navstat, hdg, rot, cog, sog, ...) passes through untouched.
//
// # Ordering
//
// The stream must be sorted by timestamp within each vessel and grouped by
// vessel. A decreasing timestamp between consecutive accepted reports of one
// vessel is a broken upstream contract; [Transformer.Process] panics with an
// [*OrderingError] rather than emit negative intervals.
//
// # Validation
//
// Checked in order, first failure wins:
//
//	latitude   in [-90, 90]                      bad_latitude
//	longitude  in [-180, 180]                    bad_longitude
//	score      in [MinScore, MaxScore]           bad_score
//	timestamp  integer or decimal epoch seconds  bad_timestamp
//	mmsi       present and non-blank             missing_mmsi
//
// Rejected reports are counted in the transformer's [Tally] and are otherwise
// invisible: they never become pending and never affect a neighbour's
// interval, gridcode or segment type.
//
// # Segments and intervals
//
// A segment is a maximal run of consecutive accepted reports of one vessel
// whose adjacent gaps are at most MaxInterval (24h by default). Each gap
// inside a segment is split in half between the two reports that bound it
// (integer seconds, so an odd gap loses one second). A report opens its
// segment as SEGMENT_START, becomes NORMAL when it follows its predecessor
// within MaxInterval, and is closed as SEGMENT_END when the vessel changes,
// the next gap is too large, or the stream ends.
//
// # Gridding
//
// Each point is assigned the identifier of the spatial cell containing it at
// GridLevel (15 by default) through a [GridIndexer].
package domain

package timezone

import "time"

// The card portal renders timestamps in Beijing local time without a
// zone field, so the offset is a constant of the environment rather
// than a zone database lookup.
var Location = time.FixedZone("UTC+8", 8*60*60)

func Now() time.Time {
	return time.Now().In(Location)
}

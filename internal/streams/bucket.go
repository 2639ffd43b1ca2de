package streams

import "time"

// BucketWidth is the fixed window used to coalesce high-frequency samples
// (viewer counts, chat message rates) into one aggregated row.
const BucketWidth = 15 * time.Second

// Bucket truncates t to the start of its 15-second window
func Bucket(t time.Time) time.Time {
	return t.Truncate(BucketWidth)
}

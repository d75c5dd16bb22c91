package mirror

import "time"

// SetNowForTest overrides the cache clock.
func (c *Cache) SetNowForTest(now func() time.Time) {
	c.now = now
}

// LastPullTimeForTest exposes the persisted timestamp reader.
var LastPullTimeForTest = lastPullTime

// RecordPullTimeForTest exposes the timestamp writer.
var RecordPullTimeForTest = recordPullTime

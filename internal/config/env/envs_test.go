package env

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	c := qt.New(t)
	var v values
	err := load(&v, lookupFrom(map[string]string{"DATABASE_URL": "postgres://x"}))
	c.Assert(err, qt.IsNil)

	c.Assert(v.CONSUMER_GROUP, qt.Equals, "webhook-processors")
	c.Assert(v.BATCH_SIZE, qt.Equals, 10)
	c.Assert(v.PollInterval(), qt.Equals, time.Second)
	c.Assert(v.STREAM_NAME, qt.Equals, "webhook-events")
	c.Assert(v.DeadLetterStream(), qt.Equals, "webhook-events:dead-letter")
	c.Assert(v.ScoreCacheTTL(), qt.Equals, 30*time.Second)
	c.Assert(v.BroadcastInterval(), qt.Equals, 5*time.Minute)
	c.Assert(v.INGEST_MODE, qt.Equals, IngestModeStream)
	c.Assert(v.SCORE_CACHE_DRIVER, qt.Equals, ScoreCacheRedis)
}

func TestLoadOverrides(t *testing.T) {
	c := qt.New(t)
	var v values
	err := load(&v, lookupFrom(map[string]string{
		"STORE_DRIVER":       "memory",
		"CREDENTIALS_SOURCE": "file",
		"BATCH_SIZE":         "50",
		"POLL_INTERVAL_MS":   "250",
		"CONSUMER_ID":        "worker-7",
		"DEAD_LETTER_STREAM": "poison",
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(v.BATCH_SIZE, qt.Equals, 50)
	c.Assert(v.PollInterval(), qt.Equals, 250*time.Millisecond)
	c.Assert(v.CONSUMER_ID, qt.Equals, "worker-7")
	c.Assert(v.DeadLetterStream(), qt.Equals, "poison")
	c.Assert(v.NeedsPostgres(), qt.IsFalse)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad int", map[string]string{"STORE_DRIVER": "memory", "CREDENTIALS_SOURCE": "file", "BATCH_SIZE": "ten"}, `(?s).*invalid BATCH_SIZE.*`},
		{"postgres without url", map[string]string{}, `DATABASE_URL is required.*`},
		{"unknown ingest mode", map[string]string{"STORE_DRIVER": "memory", "CREDENTIALS_SOURCE": "file", "INGEST_MODE": "both"}, `INGEST_MODE must be.*`},
		{"unknown score cache", map[string]string{"STORE_DRIVER": "memory", "CREDENTIALS_SOURCE": "file", "SCORE_CACHE_DRIVER": "disk"}, `SCORE_CACHE_DRIVER must be.*`},
		{"zero batch", map[string]string{"STORE_DRIVER": "memory", "CREDENTIALS_SOURCE": "file", "BATCH_SIZE": "0"}, `BATCH_SIZE.*must be positive`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v values
			qt.Assert(t, load(&v, lookupFrom(tt.env)), qt.ErrorMatches, tt.want)
		})
	}
}

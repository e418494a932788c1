package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{BaseURL: "https://community.openai.com", Days: 7, Concurrency: 4, QueueDepth: 64}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "/forum" }},
		{"zero days", func(c *Config) { c.Days = 0 }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"negative queue depth", func(c *Config) { c.QueueDepth = -1 }},
		{"negative max pages", func(c *Config) { c.MaxPages = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEndpointURLs(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseURL: "https://community.openai.com/"}
	assert.Equal(t, "https://community.openai.com/latest.json?no_definitions=false&page=3", cfg.listingURL("3"))
	assert.Equal(t, "https://community.openai.com/t/42.json?forceLoad=true&track_visit=true", cfg.detailURL(42))
}

func TestNextPage(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC)

	page, ok := nextPage(cutoff.Add(time.Hour), cutoff, "/latest?page=5")
	assert.True(t, ok)
	assert.Equal(t, "5", page)

	_, ok = nextPage(time.Time{}, cutoff, "/latest?page=5")
	assert.False(t, ok, "no in-window topic on the page")

	_, ok = nextPage(cutoff, cutoff, "/latest?page=5")
	assert.False(t, ok, "cutoff itself is not newer than the cutoff")

	_, ok = nextPage(cutoff.Add(time.Hour), cutoff, "/latest")
	assert.False(t, ok, "missing page parameter")
}

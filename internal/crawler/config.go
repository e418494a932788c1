package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Config holds the settings for a crawl run. It is decoupled from Viper so the
// crawler can be configured and tested independently.
type Config struct {
	RunID       string
	BaseURL     string
	Days        int
	Concurrency int
	QueueDepth  int
	MaxPages    int
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("forum base url %q must be an absolute URL", c.BaseURL)
	}
	if c.Days <= 0 {
		return fmt.Errorf("days must be > 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("queue depth must be >= 0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages must be >= 0")
	}
	return nil
}

func (c Config) listingURL(page string) string {
	q := url.Values{}
	q.Set("no_definitions", "false")
	q.Set("page", page)
	return strings.TrimRight(c.BaseURL, "/") + "/latest.json?" + q.Encode()
}

func (c Config) detailURL(id int64) string {
	q := url.Values{}
	q.Set("track_visit", "true")
	q.Set("forceLoad", "true")
	return strings.TrimRight(c.BaseURL, "/") + "/t/" + strconv.FormatInt(id, 10) + ".json?" + q.Encode()
}

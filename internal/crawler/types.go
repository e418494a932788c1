package crawler

import (
	"net/http"
	"time"
)

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Stats summarizes a finished crawl run. RecordsDelivered counts successful
// sink writes; RecordsDropped is what the sink later discarded, when it reports that.
type Stats struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Cutoff           time.Time `json:"cutoff"`
	Pages            int       `json:"pages"`
	PageErrors       int       `json:"page_errors"`
	TopicsSeen       int       `json:"topics_seen"`
	TopicsInWindow   int       `json:"topics_in_window"`
	TopicsInvalid    int       `json:"topics_invalid"`
	DetailsFetched   int       `json:"details_fetched"`
	DetailsFailed    int       `json:"details_failed"`
	RecordsDelivered int       `json:"records_delivered"`
	RecordsDropped   int       `json:"records_dropped"`
	SinkErrors       int       `json:"sink_errors"`
}

// Package crawler implements the recency-bounded forum crawl: the listing
// pagination controller, the per-topic detail fan-out, and the hand-off of
// mapped records to a single persistence sink.
package crawler

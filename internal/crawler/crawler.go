package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-crawler/internal/forum"
	"github.com/JakeFAU/forum-crawler/internal/metrics"
)

// firstPage is the listing page every run starts from.
const firstPage = "1"

// Crawler walks the topic listing newest-first and feeds every in-window
// topic detail to a single sink.
type Crawler struct {
	cfg     Config
	fetcher Fetcher
	sink    Sink
	clock   Clock
	logger  *zap.Logger
}

// New constructs a Crawler. A nil logger disables logging.
func New(cfg Config, fetcher Fetcher, sink Sink, clock Clock, logger *zap.Logger) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || sink == nil || clock == nil {
		return nil, errors.New("crawler requires a fetcher, a sink and a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		clock:   clock,
		logger:  logger.With(zap.String("run_id", cfg.RunID)),
	}, nil
}

// cursor tracks pagination progress within one run.
type cursor struct {
	page   string
	latest time.Time
}

type counters struct {
	pages            atomic.Int64
	pageErrors       atomic.Int64
	topicsSeen       atomic.Int64
	topicsInWindow   atomic.Int64
	topicsBad        atomic.Int64
	detailsFetched   atomic.Int64
	detailsFailed    atomic.Int64
	recordsDelivered atomic.Int64
	sinkErrors       atomic.Int64
}

// Run performs one crawl. Per-page, per-topic and sink write or close
// failures are logged and counted in Stats; only a sink that cannot be
// opened fails the run.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	started := c.clock.Now()
	cutoff := started.Add(-time.Duration(c.cfg.Days) * 24 * time.Hour)
	c.logger.Info("crawl started",
		zap.String("base_url", c.cfg.BaseURL),
		zap.Int("days", c.cfg.Days),
		zap.Time("cutoff", cutoff),
	)

	// Sink calls outlive cancellation so buffered records still get flushed.
	sinkCtx := context.WithoutCancel(ctx)
	if err := c.sink.Open(sinkCtx); err != nil {
		return Stats{}, fmt.Errorf("open sink: %w", err)
	}

	var n counters
	records := make(chan forum.TopicDetail, c.cfg.QueueDepth)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.drain(sinkCtx, records, &n)
	}()

	details := pool.New().WithMaxGoroutines(c.cfg.Concurrency)
	c.paginate(ctx, cutoff, details, records, &n)
	details.Wait()
	close(records)
	<-writerDone

	if err := c.sink.Close(sinkCtx); err != nil {
		n.sinkErrors.Add(1)
		c.logger.Error("sink close failed", zap.Error(err))
	}

	stats := Stats{
		RunID:            c.cfg.RunID,
		StartedAt:        started,
		FinishedAt:       c.clock.Now(),
		Cutoff:           cutoff,
		Pages:            int(n.pages.Load()),
		PageErrors:       int(n.pageErrors.Load()),
		TopicsSeen:       int(n.topicsSeen.Load()),
		TopicsInWindow:   int(n.topicsInWindow.Load()),
		TopicsInvalid:    int(n.topicsBad.Load()),
		DetailsFetched:   int(n.detailsFetched.Load()),
		DetailsFailed:    int(n.detailsFailed.Load()),
		RecordsDelivered: int(n.recordsDelivered.Load()),
		SinkErrors:       int(n.sinkErrors.Load()),
	}
	if r, ok := c.sink.(DropReporter); ok {
		stats.RecordsDropped = r.Dropped()
	}
	c.logger.Info("crawl finished",
		zap.Int("pages", stats.Pages),
		zap.Int("topics_in_window", stats.TopicsInWindow),
		zap.Int("details_failed", stats.DetailsFailed),
		zap.Int("records_delivered", stats.RecordsDelivered),
		zap.Int("records_dropped", stats.RecordsDropped),
		zap.Int("sink_errors", stats.SinkErrors),
		zap.Duration("elapsed", stats.FinishedAt.Sub(stats.StartedAt)),
	)
	return stats, nil
}

func (c *Crawler) paginate(
	ctx context.Context,
	cutoff time.Time,
	details *pool.Pool,
	records chan<- forum.TopicDetail,
	n *counters,
) {
	cur := cursor{page: firstPage}
	for visited := 0; ; visited++ {
		if c.cfg.MaxPages > 0 && visited >= c.cfg.MaxPages {
			c.logger.Info("max pages reached", zap.Int("max_pages", c.cfg.MaxPages))
			return
		}
		if ctx.Err() != nil {
			c.logger.Warn("crawl canceled", zap.String("page", cur.page), zap.Error(ctx.Err()))
			return
		}
		log := c.logger.With(zap.String("page", cur.page))

		resp, err := c.fetcher.Fetch(ctx, c.cfg.listingURL(cur.page))
		if err != nil {
			n.pageErrors.Add(1)
			log.Error("listing fetch failed", zap.Error(err))
			return
		}
		listing, err := forum.ParseListing(resp.Body)
		if err != nil {
			n.pageErrors.Add(1)
			log.Error("listing parse failed", zap.Error(err))
			return
		}
		n.pages.Add(1)
		metrics.ObservePage()

		cur.latest = time.Time{}
		for _, stub := range listing.Topics {
			n.topicsSeen.Add(1)
			created, err := stub.CreatedTime()
			if err != nil {
				n.topicsBad.Add(1)
				metrics.ObserveTopic(metrics.TopicInvalid)
				log.Warn("skipping topic with unusable created_at",
					zap.Int64("topic_id", stub.ID),
					zap.String("created_at", stub.CreatedAt),
					zap.Error(err),
				)
				continue
			}
			if !created.After(cutoff) {
				metrics.ObserveTopic(metrics.TopicOutOfWindow)
				continue
			}
			n.topicsInWindow.Add(1)
			metrics.ObserveTopic(metrics.TopicInWindow)
			if created.After(cur.latest) {
				cur.latest = created
			}
			details.Go(func() {
				c.fetchDetail(ctx, stub, records, n)
			})
		}

		next, ok := nextPage(cur.latest, cutoff, listing.MoreTopicsURL)
		if !ok {
			log.Info("pagination finished",
				zap.Bool("in_window", cur.latest.After(cutoff)),
				zap.String("more_topics_url", listing.MoreTopicsURL),
			)
			return
		}
		cur.page = next
	}
}

// nextPage applies the stop rule: the walk continues only when the page held
// at least one topic newer than the cutoff and the listing links a next page.
func nextPage(latest, cutoff time.Time, moreTopicsURL string) (string, bool) {
	if latest.IsZero() || !latest.After(cutoff) {
		return "", false
	}
	return forum.NextPageNumber(moreTopicsURL)
}

func (c *Crawler) fetchDetail(ctx context.Context, stub forum.TopicStub, records chan<- forum.TopicDetail, n *counters) {
	log := c.logger.With(zap.Int64("topic_id", stub.ID))
	resp, err := c.fetcher.Fetch(ctx, c.cfg.detailURL(stub.ID))
	if err != nil {
		n.detailsFailed.Add(1)
		metrics.ObserveDetail(metrics.DetailFetchError)
		log.Warn("detail fetch failed", zap.Error(err))
		return
	}
	detail, err := forum.MapTopicDetail(stub.ID, resp.Body)
	if err != nil {
		n.detailsFailed.Add(1)
		metrics.ObserveDetail(metrics.DetailSchemaError)
		log.Warn("dropping topic with unusable detail", zap.Error(err))
		return
	}
	n.detailsFetched.Add(1)
	metrics.ObserveDetail(metrics.DetailOK)

	select {
	case records <- detail:
	case <-ctx.Done():
		log.Warn("crawl canceled before topic reached the sink")
	}
}

func (c *Crawler) drain(ctx context.Context, records <-chan forum.TopicDetail, n *counters) {
	for detail := range records {
		if err := c.sink.Write(ctx, detail); err != nil {
			n.sinkErrors.Add(1)
			c.logger.Error("sink write failed", zap.Int64("topic_id", detail.ID), zap.Error(err))
			continue
		}
		n.recordsDelivered.Add(1)
	}
}

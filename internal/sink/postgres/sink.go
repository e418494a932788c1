// Package postgres implements the relational sink: topic details are buffered
// and upserted into Postgres in multi-row batches keyed by topic id.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-crawler/internal/forum"
	"github.com/JakeFAU/forum-crawler/internal/metrics"
)

// Name labels this sink in logs and metrics.
const Name = "postgres"

const (
	defaultTable     = "topic_details"
	defaultBatchSize = 100
	// Postgres caps bind parameters per statement at 65535.
	maxBindParams = 65535
)

// ErrNotConfigured is returned when required connection settings are missing.
var ErrNotConfigured = errors.New("postgres sink is not configured")

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// columns lists the table columns in bind order; id must stay first.
var columns = []string{
	"id",
	"post_comments",
	"tags",
	"tags_descriptions",
	"title",
	"posts_count",
	"created_at",
	"views",
	"reply_count",
	"like_count",
	"last_posted_at",
	"visible",
	"closed",
	"archived",
	"archetype",
	"slug",
	"word_count",
	"deleted_at",
	"user_id",
	"featured_link",
	"image_url",
	"current_post_number",
	"highest_post_number",
	"participant_count",
	"thumbnails",
	"vote_count",
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	post_comments JSONB,
	tags TEXT[],
	tags_descriptions JSONB,
	title TEXT,
	posts_count INTEGER,
	created_at TIMESTAMPTZ,
	views INTEGER,
	reply_count INTEGER,
	like_count INTEGER,
	last_posted_at TIMESTAMPTZ,
	visible BOOLEAN,
	closed BOOLEAN,
	archived BOOLEAN,
	archetype TEXT,
	slug TEXT,
	word_count INTEGER,
	deleted_at TIMESTAMPTZ,
	user_id BIGINT,
	featured_link TEXT,
	image_url TEXT,
	current_post_number INTEGER,
	highest_post_number INTEGER,
	participant_count INTEGER,
	thumbnails JSONB,
	vote_count INTEGER
)`

// Config carries connection settings and batching for the sink.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Table     string
	BatchSize int
	MaxConns  int32
}

// Validate reports ErrNotConfigured when a required connection setting is
// missing and a plain error for out-of-range values.
func (c Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"host":     c.Host,
		"user":     c.User,
		"password": c.Password,
		"dbname":   c.DBName,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if c.Table != "" && !validTableName.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	if c.BatchSize < 0 || c.BatchSize*len(columns) > maxBindParams {
		return fmt.Errorf("batch size must be between 1 and %d", maxBindParams/len(columns))
	}
	return nil
}

// DSN renders the settings as a postgres:// connection URL.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Sink buffers topic details and upserts them in batches.
type Sink struct {
	pool      txPool
	table     string
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	buf     []forum.TopicDetail
	written int
	dropped int
}

// New connects a pgx pool with the given settings and returns a Sink.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return connect(ctx, cfg.DSN(), cfg, logger)
}

func connect(ctx context.Context, dsn string, cfg Config, logger *zap.Logger) (*Sink, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg, logger)
}

// NewWithPool constructs a Sink from an existing pool (primarily for testing).
func NewWithPool(pool txPool, cfg Config, logger *zap.Logger) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if batch*len(columns) > maxBindParams {
		return nil, fmt.Errorf("batch size %d exceeds %d rows per statement", batch, maxBindParams/len(columns))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		pool:      pool,
		table:     table,
		batchSize: batch,
		logger:    logger.Named("postgres"),
		buf:       make([]forum.TopicDetail, 0, batch),
	}, nil
}

// Open creates the topic table when it does not exist yet.
func (s *Sink) Open(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(createTableSQL, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	s.logger.Info("upserting topics", zap.String("table", s.table), zap.Int("batch_size", s.batchSize))
	return nil
}

// Write buffers a record and flushes once the batch is full.
func (s *Sink) Write(ctx context.Context, detail forum.TopicDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, detail)
	if len(s.buf) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush upserts whatever is buffered.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Close flushes the remainder and releases the pool.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.flushLocked(ctx)
	s.pool.Close()
	s.logger.Info("postgres sink closed", zap.Int("written", s.written), zap.Int("dropped", s.dropped))
	return err
}

// Dropped reports how many records were discarded by failed batches.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// flushLocked runs one upsert transaction for the buffer. A failed batch is
// rolled back and dropped, never retried.
func (s *Sink) flushLocked(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	batch := latestPerID(s.buf)
	s.buf = make([]forum.TopicDetail, 0, s.batchSize)

	if err := s.upsert(ctx, batch); err != nil {
		s.dropped += len(batch)
		metrics.AddRecordsDropped(Name, len(batch))
		s.logger.Error("batch dropped", zap.Int("rows", len(batch)), zap.Error(err))
		return fmt.Errorf("batch dropped (%d rows): %w", len(batch), err)
	}
	s.written += len(batch)
	metrics.AddRecordsWritten(Name, len(batch))
	s.logger.Debug("batch upserted", zap.Int("rows", len(batch)))
	return nil
}

func (s *Sink) upsert(ctx context.Context, batch []forum.TopicDetail) error {
	query := upsertSQL(s.table, len(batch))
	args := make([]any, 0, len(batch)*len(columns))
	for _, d := range batch {
		args = append(args, s.rowArgs(d)...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("upsert %d topics: %w", len(batch), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// upsertSQL builds a multi-row insert that overwrites every non-id column on conflict.
func upsertSQL(table string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$" + strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
	}
	b.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
	for i, col := range columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", col, col)
	}
	return b.String()
}

// rowArgs coerces one record into bind values in column order: tags bind as
// a native text[], nested structures as JSON text, nil stays NULL.
func (s *Sink) rowArgs(d forum.TopicDetail) []any {
	return []any{
		d.ID,
		rawOrNil(d.PostComments),
		d.Tags,
		s.jsonOrNil(d.ID, d.TagsDescriptions),
		d.Title,
		d.PostsCount,
		s.timestamp(d.ID, "created_at", &d.CreatedAt),
		d.Views,
		d.ReplyCount,
		d.LikeCount,
		s.timestamp(d.ID, "last_posted_at", d.LastPostedAt),
		d.Visible,
		d.Closed,
		d.Archived,
		d.Archetype,
		d.Slug,
		intOrNil(d.WordCount),
		s.timestamp(d.ID, "deleted_at", d.DeletedAt),
		int64OrNil(d.UserID),
		stringOrNil(d.FeaturedLink),
		stringOrNil(d.ImageURL),
		d.CurrentPostNumber,
		d.HighestPostNumber,
		d.ParticipantCount,
		rawOrNil(d.Thumbnails),
		d.VoteCount,
	}
}

func (s *Sink) timestamp(id int64, field string, raw *string) any {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := forum.ParseTimestamp(*raw)
	if err != nil {
		s.logger.Warn("storing unparseable timestamp as NULL",
			zap.Int64("topic_id", id), zap.String("field", field), zap.String("value", *raw))
		return nil
	}
	return t.UTC().Truncate(time.Microsecond)
}

func (s *Sink) jsonOrNil(id int64, m map[string]string) any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		s.logger.Warn("storing unencodable tags_descriptions as NULL", zap.Int64("topic_id", id), zap.Error(err))
		return nil
	}
	return string(b)
}

func rawOrNil(raw forum.RawJSON) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64OrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringOrNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// latestPerID collapses repeated ids to their last occurrence; one statement
// cannot upsert the same key twice.
func latestPerID(in []forum.TopicDetail) []forum.TopicDetail {
	last := make(map[int64]int, len(in))
	for i, d := range in {
		last[d.ID] = i
	}
	if len(last) == len(in) {
		return in
	}
	out := make([]forum.TopicDetail, 0, len(last))
	for i, d := range in {
		if last[d.ID] == i {
			out = append(out, d)
		}
	}
	return out
}

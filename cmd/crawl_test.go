package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/forum-crawler/internal/config"
	"github.com/JakeFAU/forum-crawler/internal/forum"
)

// newForumServer serves one listing page with a fresh and a month-old topic.
func newForumServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	now := time.Now().UTC()
	var hits sync.Map

	mux := http.NewServeMux()
	mux.HandleFunc("/latest.json", func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		writeJSON(t, w, map[string]any{"topic_list": map[string]any{
			"topics": []map[string]any{
				{"id": 1, "title": "fresh", "created_at": now.Add(-time.Hour).Format(time.RFC3339)},
				{"id": 2, "title": "stale", "created_at": now.Add(-30 * 24 * time.Hour).Format(time.RFC3339)},
			},
			"more_topics_url": "/latest?no_definitions=false&page=2",
		}})
	})
	mux.HandleFunc("/t/", func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		if r.URL.Path != "/t/1.json" {
			http.NotFound(w, r)
			return
		}
		writeJSON(t, w, map[string]any{
			"id": 1, "title": "fresh", "created_at": now.Add(-time.Hour).Format(time.RFC3339),
			"views": 3, "reply_count": 0, "like_count": 0, "posts_count": 1, "vote_count": 0,
			"word_count": nil, "tags": []string{}, "tags_descriptions": map[string]string{},
			"last_posted_at": nil, "visible": true, "closed": false, "archived": false,
			"archetype": "regular", "slug": "fresh", "user_id": 5, "current_post_number": 1,
			"highest_post_number": 1, "participant_count": 1,
			"post_stream": map[string]any{"posts": []map[string]any{{"id": 10, "cooked": "<p>hi</p>"}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCrawlCommandWritesJSON(t *testing.T) {
	srv, hits := newForumServer(t)
	out := filepath.Join(t.TempDir(), "nested", "topics.json")
	cfgPath := writeConfig(t, fmt.Sprintf("forum:\n  base_url: %s\nlogging:\n  development: false\n  level: error\n", srv.URL))

	root := newRootCmd()
	root.SetArgs([]string{"crawl", "--config", cfgPath, "--output", out, "--days", "7"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var records []forum.TopicDetail
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Nil(t, records[0].WordCount)

	_, staleFetched := hits.Load("/t/2.json")
	assert.False(t, staleFetched, "topic outside the window must not be fetched")
}

func TestCrawlCommandArchivesToGCS(t *testing.T) {
	forumSrv, _ := newForumServer(t)
	out := filepath.Join(t.TempDir(), "topics.json")

	var (
		mu       sync.Mutex
		uploaded []string
	)
	gcsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/upload/") {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			uploaded = append(uploaded, r.URL.Query().Get("name")+"|"+string(body))
			mu.Unlock()
			fmt.Fprintln(w, `{"name":"`+r.URL.Query().Get("name")+`"}`)
			return
		}
		fmt.Fprintln(w, `{"name":"archive-bucket"}`)
	}))
	defer gcsSrv.Close()

	previous := gcsClientFactory
	gcsClientFactory = endpointFactory{endpoint: gcsSrv.URL}
	defer func() { gcsClientFactory = previous }()

	cfgPath := writeConfig(t, fmt.Sprintf(
		"forum:\n  base_url: %s\noutput:\n  gcs_bucket: archive-bucket\n  prefix: runs\nlogging:\n  development: false\n  level: error\n",
		forumSrv.URL,
	))
	root := newRootCmd()
	root.SetArgs([]string{"crawl", "--config", cfgPath, "--output", out})
	require.NoError(t, root.ExecuteContext(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploaded, 1)
	assert.True(t, strings.HasPrefix(uploaded[0], "runs/"))
	assert.Contains(t, uploaded[0], `"title":"fresh"`)
}

type endpointFactory struct{ endpoint string }

func (f endpointFactory) NewClient(ctx context.Context) (*gcs.Client, error) {
	return gcs.NewClient(ctx, option.WithEndpoint(f.endpoint), option.WithoutAuthentication())
}

func TestCrawlCommandPostgresWithoutSettings(t *testing.T) {
	for _, key := range []string{
		"POSTGRES_URI", "POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASS",
		"POSTGRES_PASSWORD", "POSTGRES_DB", "CRAWLER_POSTGRES_HOST",
		"CRAWLER_POSTGRES_USER", "CRAWLER_POSTGRES_PASSWORD", "CRAWLER_POSTGRES_DBNAME",
	} {
		t.Setenv(key, "")
	}

	root := newRootCmd()
	root.SetArgs([]string{"crawl", "--output-method", "postgres"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, config.ErrSinkNotConfigured)
}

func TestCrawlCommandRejectsUnknownOutputMethod(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"crawl", "--output-method", "csv"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	crawl, _, err := root.Find([]string{"crawl"})
	require.NoError(t, err)
	assert.Equal(t, "crawl", crawl.Name())
	for _, name := range []string{"days", "output-method", "output", "max-pages"} {
		assert.NotNil(t, crawl.Flags().Lookup(name), name)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

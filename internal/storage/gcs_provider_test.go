// Package storage_test contains unit tests for the storage package.
package storage_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/forum-crawler/internal/storage"
)

// newTestGCSProvider creates a new GCSProvider pointed at a test server.
func newTestGCSProvider(t *testing.T, handler http.Handler) (*storage.GCSProvider, func()) {
	t.Helper()

	server := httptest.NewServer(handler)
	client, err := gcs.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	provider := &storage.GCSProvider{
		Client:      client,
		BucketName:  "test-bucket",
		ContentType: "application/json",
	}
	return provider, server.Close
}

func TestGCSProvider_Save(t *testing.T) {
	objectName := "topics/2026-10-15/run-1.json"
	objectData := []byte(`[{"id":1}]`)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, objectName, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))

		fmt.Fprintln(w, `{ "name": "`+objectName+`" }`)
	})

	provider, cleanup := newTestGCSProvider(t, handler)
	defer cleanup()

	err := provider.Save(context.Background(), objectName, objectData)
	assert.NoError(t, err)
}

func TestGCSProvider_Save_Error(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	provider, cleanup := newTestGCSProvider(t, handler)
	defer cleanup()

	err := provider.Save(context.Background(), "object", []byte("data"))
	assert.Error(t, err)
}

// fakeFactory hands out a preconfigured client.
type fakeFactory struct {
	client *gcs.Client
	err    error
}

func (f fakeFactory) NewClient(context.Context) (*gcs.Client, error) {
	return f.client, f.err
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestNewGCSProvider(t *testing.T) {
	client, err := gcs.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				assert.Contains(t, r.URL.Path, "/storage/v1/b/test-bucket")
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(`{"name":"test-bucket"}`)),
					Header:     http.Header{"Content-Type": {"application/json"}},
				}, nil
			}),
		}),
	)
	require.NoError(t, err)

	provider, err := storage.NewGCSProvider(context.Background(), "test-bucket", fakeFactory{client: client})
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", provider.BucketName)
}

func TestNewGCSProvider_FactoryError(t *testing.T) {
	_, err := storage.NewGCSProvider(context.Background(), "test-bucket", fakeFactory{err: errors.New("no credentials")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestArchiveObjectName(t *testing.T) {
	at := time.Date(2026, 10, 15, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "topics/2026-10-16/run-1.json", storage.ArchiveObjectName("topics", at, "run-1"))
}

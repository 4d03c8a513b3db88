package feedpoll

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup-pipeline/internal/resilience/retry"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example World News</title>
    <item>
      <guid>https://news.example/articles/1</guid>
      <title>Hamas releases first group of 7 hostages to Red Cross in Gaza</title>
      <link>https://news.example/articles/1</link>
      <description>Seven hostages were handed over on Saturday.</description>
      <pubDate>Tue, 10 Mar 2026 11:58:00 GMT</pubDate>
    </item>
    <item>
      <guid>https://news.example/articles/2</guid>
      <title>Markets rally after rate decision</title>
      <link>https://news.example/articles/2</link>
      <description>Stocks climbed broadly.</description>
      <pubDate>Tue, 10 Mar 2026 10:15:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func TestFetch_ParsesEntries(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("ETag", `W/"v2"`)
		w.Header().Set("Last-Modified", "Tue, 10 Mar 2026 11:58:00 GMT")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client())
	result, err := fetcher.Fetch(context.Background(), srv.URL, "", "")
	require.NoError(t, err)

	assert.False(t, result.NotModified)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "Hamas releases first group of 7 hostages to Red Cross in Gaza", result.Items[0].Title)
	assert.Equal(t, time.Date(2026, 3, 10, 11, 58, 0, 0, time.UTC), result.Items[0].PublishedAt)
	assert.Equal(t, `W/"v2"`, result.ETag)
	assert.Equal(t, "Tue, 10 Mar 2026 11:58:00 GMT", result.LastModified)
	assert.Contains(t, gotUA, "catchup-pipeline")
}

func TestFetch_SendsConditionalHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `W/"v1"`, r.Header.Get("If-None-Match"))
		assert.Equal(t, "Mon, 09 Mar 2026 22:00:00 GMT", r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client())
	result, err := fetcher.Fetch(context.Background(), srv.URL, `W/"v1"`, "Mon, 09 Mar 2026 22:00:00 GMT")
	require.NoError(t, err)

	assert.True(t, result.NotModified)
	assert.Empty(t, result.Items)
	// Validators are carried forward unchanged on a 304.
	assert.Equal(t, `W/"v1"`, result.ETag)
}

func TestFetch_ServerErrorIsTypedAndRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client())
	_, err := fetcher.Fetch(context.Background(), srv.URL, "", "")

	var httpErr *retry.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.True(t, retry.IsRetryable(err))
}

func TestFetch_ClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client())
	_, err := fetcher.Fetch(context.Background(), srv.URL, "", "")

	var httpErr *retry.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.False(t, retry.IsRetryable(err))
}

func TestFetch_ParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("this is not xml"))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client())
	_, err := fetcher.Fetch(context.Background(), srv.URL, "", "")
	assert.Error(t, err)
}

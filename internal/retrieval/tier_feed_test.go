package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rssDocument(itemTitle, itemLink, description, content string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
  <channel>
    <title>Example Reviews</title>
    <item>
      <title>%s</title>
      <link>%s</link>
      <description>%s</description>
      <content:encoded><![CDATA[%s]]></content:encoded>
    </item>
    <item>
      <title>Unrelated news item</title>
      <link>https://example.com/news/other</link>
      <description>nothing relevant here</description>
    </item>
  </channel>
</rss>`, itemTitle, itemLink, description, content)
}

func TestFeedStrategy_DeclinesWithoutSubjectHints(t *testing.T) {
	t.Parallel()

	s := NewFeedStrategy(time.Second, nil, zap.NewNop())
	_, err := s.Attempt(context.Background(), Request{URL: "https://example.com/reviews"})
	require.True(t, IsClass(err, ContentAbsent))
}

func TestFeedStrategy_MatchesItemWithInlineContent(t *testing.T) {
	t.Parallel()

	longBody := strings.Repeat("The Toyota Corolla ran flawlessly through our test loop. ", 20)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed" {
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = fmt.Fprint(w, rssDocument(
				"2026 Toyota Corolla review", "https://example.com/reviews/corolla",
				"Our full review", longBody))
			return
		}
		// Homepage without alternate links, forcing well-known path probing.
		_, _ = w.Write([]byte("<html><head></head><body>home</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewFeedStrategy(2*time.Second, nil, zap.NewNop())
	res, err := s.Attempt(context.Background(), Request{
		URL:     srv.URL + "/reviews/some-listing",
		Subject: SubjectHints{Make: "Toyota", Model: "Corolla"},
	})

	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, TierFeed, res.Tier)
	require.Equal(t, "https://example.com/reviews/corolla", res.ResolvedURL)
	require.Contains(t, string(res.Content), "Toyota Corolla")
}

func TestFeedStrategy_DiscoversFeedFromAlternateLink(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`<html><head>
				<link rel="alternate" type="application/rss+xml" href="/custom/feed.xml">
			</head><body></body></html>`))
		case "/custom/feed.xml":
			_, _ = fmt.Fprint(w, rssDocument(
				"Honda Civic road test", "https://example.com/reviews/civic",
				strings.Repeat("The Honda Civic summary text. ", 30), ""))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewFeedStrategy(2*time.Second, nil, zap.NewNop())
	res, err := s.Attempt(context.Background(), Request{
		URL:     srv.URL + "/anything",
		Subject: SubjectHints{Make: "Honda", Model: "Civic"},
	})

	require.NoError(t, err)
	require.True(t, res.Success)
	require.Contains(t, string(res.Content), "Honda Civic")
}

func TestFeedStrategy_NoMatchingItem(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed" {
			_, _ = fmt.Fprint(w, rssDocument("Mazda 3 review", "https://example.com/r/mazda3", "desc", "body"))
			return
		}
		_, _ = w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewFeedStrategy(2*time.Second, nil, zap.NewNop())
	_, err := s.Attempt(context.Background(), Request{
		URL:     srv.URL + "/reviews",
		Subject: SubjectHints{Make: "Subaru", Model: "Outback"},
	})
	require.True(t, IsClass(err, ContentAbsent))
}

func TestFeedStrategy_NoDiscoverableFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := NewFeedStrategy(2*time.Second, nil, zap.NewNop())
	_, err := s.Attempt(context.Background(), Request{
		URL:     srv.URL + "/reviews",
		Subject: SubjectHints{Make: "Kia"},
	})
	require.True(t, IsClass(err, ContentAbsent))
}

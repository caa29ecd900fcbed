package feeds_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"fedibot/internal/domain/post"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/storage"
	"fedibot/internal/parsers/feeds"
)

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <language>ca</language>
    <item>
      <title>Post A</title>
      <link>http://site/a</link>
      <description>Body of A</description>
      <pubDate>Mon, 02 Jan 2023 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Post B</title>
      <link>https://site/b</link>
      <description>Body of B &lt;img src="https://site/b.jpg" alt="a picture"&gt;</description>
      <pubDate>Mon, 02 Jan 2023 11:00:00 +0000</pubDate>
    </item>
    <item>
      <title>No body</title>
      <link>https://site/c</link>
      <pubDate>Mon, 02 Jan 2023 12:00:00 +0000</pubDate>
    </item>
    <item>
      <title>No date</title>
      <link>https://site/d</link>
      <description>Body of D</description>
    </item>
  </channel>
</rss>`

// newParser поднимает httptest-сервер с фикстурой и собирает парсер с одним
// источником "example", смотрящим на этот сервер.
func newParser(t *testing.T, site config.FeedSite) (*feeds.Parser, *storage.Document, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedFixture))
	}))
	t.Cleanup(ts.Close)

	site.URL = ts.URL
	if site.Name == "" {
		site.Name = "example"
	}
	if site.MaxSummaryLength == 0 {
		site.MaxSummaryLength = 300
	}

	doc, err := storage.LoadDocument(filepath.Join(t.TempDir(), "feeds.yaml"))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	cfg := &config.Config{}
	cfg.Default.MaxLength = 500
	cfg.FeedParser.Sites = []config.FeedSite{site}

	return feeds.New(cfg, doc), doc, ts
}

func TestFetchRawNormalizesEntries(t *testing.T) {
	t.Parallel()

	parser, _, _ := newParser(t, config.FeedSite{})

	posts, err := parser.FetchRaw(context.Background(), "example")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}

	// Запись без тела и запись без даты отброшены.
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].ID != "//site/a" || posts[1].ID != "//site/b" {
		t.Fatalf("unexpected ids: %q, %q", posts[0].ID, posts[1].ID)
	}
	if !posts[0].PublishedAt.Before(posts[1].PublishedAt) {
		t.Fatal("posts are not in chronological order")
	}
	if posts[0].Language != "ca" {
		t.Fatalf("language = %q, want feed language ca", posts[0].Language)
	}
	if posts[0].RawCombinedContent == "" {
		t.Fatal("raw combined content is empty")
	}
}

func TestLanguageOverride(t *testing.T) {
	t.Parallel()

	parser, _, _ := newParser(t, config.FeedSite{
		LanguageDefault:  "es",
		LanguageOverride: true,
	})

	posts, err := parser.FetchRaw(context.Background(), "example")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	if posts[0].Language != "es" {
		t.Fatalf("language = %q, want override es", posts[0].Language)
	}
}

func TestSchemeCollapseDedup(t *testing.T) {
	t.Parallel()

	parser, doc, ts := newParser(t, config.FeedSite{})

	// Пред-засеянное состояние: http://site/a уже видели.
	if err := parser.MarkSeen("example", []string{"//site/a"}); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	posts, err := parser.FetchRaw(context.Background(), "example")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}

	fresh := make([]post.QueuePost, 0, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if parser.AlreadySeen("example", p.ID) {
			continue
		}
		fresh = append(fresh, p)
		ids = append(ids, p.ID)
	}
	if len(fresh) != 1 || fresh[0].ID != "//site/b" {
		t.Fatalf("fresh posts = %+v, want single //site/b", ids)
	}

	if err := parser.MarkSeen("example", ids); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	// Состояние на диске: оба URL без схемы под хэшированным ключом фида.
	reloaded, err := storage.LoadDocument(doc.Path())
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	data, ok := reloaded.GetHashed(ts.URL).(map[string]any)
	if !ok {
		t.Fatalf("no stored state for %s", ts.URL)
	}
	got := storage.Strings(data["urls_seen"])
	want := []string{"//site/a", "//site/b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("urls_seen = %v, want %v", got, want)
	}
}

func TestFormatPost(t *testing.T) {
	t.Parallel()

	parser, _, _ := newParser(t, config.FeedSite{ShowName: true})

	qp := &post.QueuePost{
		ID:       "//site/x",
		Language: "en",
		RawContent: &feeds.Entry{
			Title: "BREAKING NEWS TODAY",
			Body:  "<p>Some   <b>bold</b>\n\n\nstatement</p>",
			URL:   "https://site/x",
		},
	}
	parser.FormatPost("example", qp)

	if qp.Summary != "example: Breaking News Today" {
		t.Fatalf("summary = %q", qp.Summary)
	}
	if !strings.HasSuffix(qp.Text, "\n\nhttps://site/x") {
		t.Fatalf("text does not end with URL: %q", qp.Text)
	}
	if strings.Contains(qp.Text, "<") {
		t.Fatalf("text still contains HTML: %q", qp.Text)
	}
	if strings.Contains(qp.Text, "  ") {
		t.Fatalf("whitespace not collapsed: %q", qp.Text)
	}
}

func TestFormatPostHonorsSummaryLength(t *testing.T) {
	t.Parallel()

	parser, _, _ := newParser(t, config.FeedSite{MaxSummaryLength: 20})

	qp := &post.QueuePost{
		ID:       "//site/x",
		Language: "en",
		RawContent: &feeds.Entry{
			Title: "Title",
			Body:  strings.Repeat("word ", 40),
			URL:   "https://site/x",
		},
	}
	parser.FormatPost("example", qp)

	body := strings.TrimSuffix(qp.Text, "\n\nhttps://site/x")
	if body == qp.Text {
		t.Fatalf("text does not end with URL: %q", qp.Text)
	}
	// Многоточие входит в лимит max_summary_length, а не дописывается сверх него.
	if got := utf8.RuneCountInString(body); got > 20 {
		t.Fatalf("body is %d runes long, over the 20 limit: %q", got, body)
	}
	if !strings.HasSuffix(body, "...") {
		t.Fatalf("truncated body misses the ellipsis: %q", body)
	}
}

func TestParseMediaExtractsImages(t *testing.T) {
	t.Parallel()

	parser, _, _ := newParser(t, config.FeedSite{})

	qp := &post.QueuePost{
		RawCombinedContent: `text <img src="https://site/pic.jpg" alt="a picture"> more <img alt="no src">`,
	}
	if err := parser.ParseMedia(context.Background(), qp); err != nil {
		t.Fatalf("ParseMedia: %v", err)
	}

	want := []post.Media{{URL: "https://site/pic.jpg", AltText: "a picture"}}
	if !reflect.DeepEqual(qp.Media, want) {
		t.Fatalf("media = %+v, want %+v", qp.Media, want)
	}
}

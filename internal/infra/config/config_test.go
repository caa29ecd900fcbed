package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fedibot/internal/infra/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
app:
  name: fedibot
  api_base_url: https://example.social
feed_parser:
  sites:
    - name: blog
      url: https://example.org/feed
`)

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.App.InstanceType != config.InstanceMastodon {
		t.Fatalf("InstanceType = %q, want %q", cfg.App.InstanceType, config.InstanceMastodon)
	}
	if got, want := cfg.MaxLength(), 500; got != want {
		t.Fatalf("MaxLength() = %d, want %d", got, want)
	}
	if got, want := cfg.App.StatusParams.Visibility, "public"; got != want {
		t.Fatalf("Visibility = %q, want %q", got, want)
	}
	if got, want := cfg.App.StatusParams.ContentType, "text/plain"; got != want {
		t.Fatalf("ContentType = %q, want %q", got, want)
	}
	if got, want := cfg.TootsQueue.File, "storage/queue.yaml"; got != want {
		t.Fatalf("queue file = %q, want %q", got, want)
	}
	if got, want := cfg.FeedParser.StorageFile, "storage/feeds.yaml"; got != want {
		t.Fatalf("feeds storage = %q, want %q", got, want)
	}
	if got, want := cfg.FeedParser.Sites[0].MaxSummaryLength, 300; got != want {
		t.Fatalf("MaxSummaryLength = %d, want %d", got, want)
	}
	if got, want := cfg.Publisher.MediaStorage, "storage/media"; got != want {
		t.Fatalf("media storage = %q, want %q", got, want)
	}
}

func TestLoadFileDialectMaxLength(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
app:
  instance_type: pleroma
`)

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got, want := cfg.MaxLength(), 5000; got != want {
		t.Fatalf("MaxLength() = %d, want %d", got, want)
	}
	if got, want := cfg.App.StatusParams.MaxLength, 5000; got != want {
		t.Fatalf("StatusParams.MaxLength = %d, want %d", got, want)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknownInstanceType",
			body:    "app:\n  instance_type: friendica\n",
			wantErr: "instance_type",
		},
		{
			name:    "unknownVisibility",
			body:    "app:\n  status_params:\n    visibility: everyone\n",
			wantErr: "visibility",
		},
		{
			name:    "badStartDate",
			body:    "telegram_parser:\n  date_to_start_from: not-a-date\n",
			wantErr: "date_to_start_from",
		},
		{
			name: "unresolvableFilterProfile",
			body: "feed_parser:\n  sites:\n    - name: blog\n      url: https://e.org/f\n" +
				"      keywords_filter_profile: missing\n",
			wantErr: "profile",
		},
		{
			name:    "feedSiteWithoutURL",
			body:    "feed_parser:\n  sites:\n    - name: blog\n",
			wantErr: "no url",
		},
		{
			name:    "telegramChatWithoutID",
			body:    "telegram_parser:\n  channels:\n    - name: news\n",
			wantErr: "no id",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadFile(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("LoadFile() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadFileResolvesProfiles(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
keywords_filter:
  profiles:
    talamanca:
      keywords: ["talamanca", "bisaura"]
mastodon_parser:
  accounts:
    - user: "@env@example.social"
      retoots: true
      keywords_filter_profile: talamanca
`)

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	profile, ok := cfg.KeywordsFilter.Profiles["talamanca"]
	if !ok {
		t.Fatalf("profile talamanca not loaded")
	}
	if len(profile.Keywords) != 2 {
		t.Fatalf("profile keywords = %#v, want 2 entries", profile.Keywords)
	}
}

func TestTelegramStartDate(t *testing.T) {
	t.Parallel()

	tp := config.TelegramParser{DateToStartFrom: "2024-01-02"}
	got, err := tp.StartDate()
	if err != nil {
		t.Fatalf("StartDate() error = %v", err)
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartDate() = %v, want %v", got, want)
	}

	empty := config.TelegramParser{}
	got, err = empty.StartDate()
	if err != nil {
		t.Fatalf("StartDate() empty error = %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("StartDate() empty = %v, want zero", got)
	}
}

func TestPublisherOnlyOldest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		pub  config.Publisher
		want bool
	}{
		{name: "neither", pub: config.Publisher{}, want: false},
		{name: "onlyOlderToot", pub: config.Publisher{OnlyOlderToot: true}, want: true},
		{name: "onlyOldestEveryIteration", pub: config.Publisher{OnlyOldestPostEveryIteration: true}, want: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.pub.OnlyOldest(); got != tc.want {
				t.Fatalf("OnlyOldest() = %v, want %v", got, tc.want)
			}
		})
	}
}

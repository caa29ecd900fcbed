package post_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"fedibot/internal/domain/post"
)

func TestQueuePostRoundTrip(t *testing.T) {
	t.Parallel()

	original := post.QueuePost{
		ID:       "abcdef0123456789",
		Group:    "fedcba9876543210",
		Action:   post.NewAction(),
		Summary:  "A headline",
		Text:     "The body that goes out\n\nhttps://example.org/a",
		Language: "en",
		Media: []post.Media{
			{URL: "https://example.org/img.png", AltText: "a picture"},
			{Path: "storage/media/local.jpg", MimeType: "image/jpeg"},
		},
		PublishedAt:        time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		RawContent:         map[string]string{"title": "must not survive"},
		RawCombinedContent: "must not survive either",
	}

	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "must not survive") {
		t.Fatalf("raw fields leaked into wire form:\n%s", data)
	}

	var got post.QueuePost
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := original
	want.RawContent = nil
	want.RawCombinedContent = ""
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip = %#v, want %#v", got, want)
	}
}

func TestQueuePostReblogCarriesTargetInID(t *testing.T) {
	t.Parallel()

	original := post.QueuePost{
		ID:          "111222333",
		Action:      post.ReblogAction("111222333"),
		PublishedAt: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
	}

	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got post.QueuePost
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !got.Action.IsReblog() {
		t.Fatalf("Action = %#v, want reblog", got.Action)
	}
	if got.Action.RemoteID != "111222333" {
		t.Fatalf("RemoteID = %q, want %q", got.Action.RemoteID, "111222333")
	}
}

func TestQueuePostRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	wire := "id: abc\naction: repost\npublished_at: 1700000000\n"

	var got post.QueuePost
	err := yaml.Unmarshal([]byte(wire), &got)
	if err == nil || !strings.Contains(err.Error(), "unknown post action") {
		t.Fatalf("Unmarshal() error = %v, want unknown action", err)
	}
}

func TestActionString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		action post.Action
		want   string
	}{
		{name: "new", action: post.NewAction(), want: "new"},
		{name: "reblog", action: post.ReblogAction("42"), want: "reblog"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.action.String(); got != tc.want {
				t.Fatalf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

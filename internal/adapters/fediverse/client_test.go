package fediverse_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"fedibot/internal/adapters/fediverse"
	"fedibot/internal/infra/config"
)

// newStatusServer поднимает фейковый /api/v1/statuses и отдаёт разобранную
// форму последнего запроса.
func newStatusServer(t *testing.T) (*httptest.Server, func() *http.Request) {
	t.Helper()

	var last *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/statuses" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		last = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "42", "url": "https://fedi/statuses/42", "created_at": "2023-05-01T12:00:00Z"}`))
	}))
	t.Cleanup(ts.Close)

	return ts, func() *http.Request { return last }
}

func TestPostStatusPleromaSendsContentType(t *testing.T) {
	t.Parallel()

	ts, last := newStatusServer(t)
	client := fediverse.NewClient(ts.URL, "secret-token", config.InstancePleroma)

	status, err := client.PostStatus(context.Background(), fediverse.StatusParams{
		Text:        "hello fedi",
		Language:    "en",
		SpoilerText: "a title",
		InReplyToID: "41",
		MediaIDs:    []string{"7", "8"},
		Visibility:  "public",
		ContentType: "text/plain",
	})
	if err != nil {
		t.Fatalf("PostStatus: %v", err)
	}
	if status.ID != "42" {
		t.Fatalf("status id = %q, want 42", status.ID)
	}

	req := last()
	if req == nil {
		t.Fatal("no request reached the server")
	}
	if got := req.Header.Get("Authorization"); got != "Bearer secret-token" {
		t.Fatalf("authorization = %q", got)
	}
	form := req.PostForm
	if form.Get("content_type") != "text/plain" {
		t.Fatalf("content_type = %q, want text/plain", form.Get("content_type"))
	}
	if form.Get("status") != "hello fedi" || form.Get("spoiler_text") != "a title" {
		t.Fatalf("unexpected form: %v", form)
	}
	if form.Get("in_reply_to_id") != "41" || form.Get("visibility") != "public" {
		t.Fatalf("unexpected form: %v", form)
	}
	if got := form["media_ids[]"]; !reflect.DeepEqual(got, []string{"7", "8"}) {
		t.Fatalf("media_ids[] = %v, want [7 8]", got)
	}
}

func TestPostStatusMastodonOmitsContentType(t *testing.T) {
	t.Parallel()

	ts, last := newStatusServer(t)
	client := fediverse.NewClient(ts.URL, "secret-token", config.InstanceMastodon)

	if _, err := client.PostStatus(context.Background(), fediverse.StatusParams{
		Text:        "hello fedi",
		ContentType: "text/plain",
	}); err != nil {
		t.Fatalf("PostStatus: %v", err)
	}

	req := last()
	if req == nil {
		t.Fatal("no request reached the server")
	}
	if _, ok := req.PostForm["content_type"]; ok {
		t.Fatal("mainline mastodon request carries content_type")
	}
	if got := req.PostForm.Get("status"); got != "hello fedi" {
		t.Fatalf("status = %q", got)
	}
}

func TestSupportsContentType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		instanceType string
		want         bool
	}{
		{config.InstanceMastodon, false},
		{config.InstancePleroma, true},
		{config.InstanceFirefish, true},
	}
	for _, tc := range cases {
		if got := fediverse.SupportsContentType(tc.instanceType); got != tc.want {
			t.Errorf("SupportsContentType(%q) = %v, want %v", tc.instanceType, got, tc.want)
		}
	}
}

package telegram_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"fedibot/internal/domain/post"
	"fedibot/internal/domain/queue"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/storage"
	"fedibot/internal/parsers/telegram"
)

// fakeGateway отдаёт заранее заданные сообщения и считает скачивания.
type fakeGateway struct {
	messages  []telegram.Message
	failIDs   map[int]bool
	downloads []int
}

func (f *fakeGateway) Messages(_ context.Context, _ int64, minID int, startDate time.Time) ([]telegram.Message, error) {
	var out []telegram.Message
	for _, msg := range f.messages {
		if minID > 0 && msg.ID <= minID {
			continue
		}
		if !startDate.IsZero() && msg.Date.Before(startDate) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (f *fakeGateway) DownloadFile(_ context.Context, msg telegram.Message, dir string) (string, error) {
	if f.failIDs[msg.ID] {
		return "", fmt.Errorf("download of %d failed", msg.ID)
	}
	f.downloads = append(f.downloads, msg.ID)
	return filepath.Join(dir, fmt.Sprintf("%d.jpg", msg.ID)), nil
}

func newParser(t *testing.T, gw telegram.Gateway, maxLength int) (*telegram.Parser, *storage.Document) {
	t.Helper()

	doc, err := storage.LoadDocument(filepath.Join(t.TempDir(), "telegram.yaml"))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	cfg := &config.Config{}
	cfg.Default.MaxLength = maxLength
	cfg.Publisher.MediaStorage = "storage/media"
	cfg.TelegramParser.Channels = []config.TelegramChat{
		{ID: 100, Name: "chan", Language: "en"},
	}

	parser, err := telegram.New(cfg, gw, doc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return parser, doc
}

func photo(id int, at time.Time) telegram.Message {
	return telegram.Message{
		ID:   id,
		Date: at,
		File: &telegram.FileInfo{MediaID: int64(id), MimeType: "image/jpeg"},
	}
}

func TestGroupingCaptionThenImages(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{messages: []telegram.Message{
		{ID: 1, Text: "Hello", Date: base},
		photo(2, base.Add(10*time.Second)),
		photo(3, base.Add(20*time.Second)),
	}}
	parser, _ := newParser(t, gw, 500)

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	posts := parser.PostProcess("chan", raw)

	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	if posts[0].Text != "Hello" {
		t.Fatalf("text = %q, want Hello", posts[0].Text)
	}
	if posts[0].Group == "" {
		t.Fatal("group hash is empty")
	}
	if !posts[0].PublishedAt.Equal(base) {
		t.Fatalf("published_at = %v, want earliest %v", posts[0].PublishedAt, base)
	}

	if err := parser.ParseMedia(context.Background(), &posts[0]); err != nil {
		t.Fatalf("ParseMedia: %v", err)
	}
	if len(posts[0].Media) != 2 {
		t.Fatalf("got %d media, want 2", len(posts[0].Media))
	}
}

func TestGroupingNewTextStartsNewGroup(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{messages: []telegram.Message{
		{ID: 1, Text: "first", Date: base},
		{ID: 2, Text: "second", Date: base.Add(5 * time.Second)},
		photo(3, base.Add(3 * time.Minute)),
	}}
	parser, _ := newParser(t, gw, 500)

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	posts := parser.PostProcess("chan", raw)

	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3 (text, text, stray photo)", len(posts))
	}
	if posts[0].Group == posts[1].Group {
		t.Fatal("separate logical posts share a group hash")
	}
}

func TestSplittingLongText(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	text := strings.Repeat("abcde ", 20) // 120 символов
	gw := &fakeGateway{messages: []telegram.Message{
		{ID: 1, Text: text, Date: base},
	}}
	parser, _ := newParser(t, gw, 56)

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	posts := parser.PostProcess("chan", raw)

	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}
	group := posts[0].Group
	seenIDs := map[string]bool{}
	for i, qp := range posts {
		if qp.Group != group {
			t.Fatalf("post %d has group %q, want %q", i, qp.Group, group)
		}
		if seenIDs[qp.ID] {
			t.Fatalf("duplicate segment id %q", qp.ID)
		}
		seenIDs[qp.ID] = true
		if !strings.Contains(qp.Text, fmt.Sprintf("%d/3", i+1)) {
			t.Fatalf("post %d misses thread marker: %q", i, qp.Text)
		}
		if got := utf8.RuneCountInString(qp.Text); got > 56 {
			t.Fatalf("post %d is %d runes long, over the 56 limit", i, got)
		}
	}
}

func TestSplittingByMediaCount(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	messages := []telegram.Message{{ID: 1, Text: "six pictures", Date: base}}
	for i := 2; i <= 7; i++ {
		messages = append(messages, photo(i, base.Add(time.Duration(i)*time.Second)))
	}
	gw := &fakeGateway{messages: messages}
	parser, _ := newParser(t, gw, 500)

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	posts := parser.PostProcess("chan", raw)

	// 6 вложений при лимите 4 на статус: два сегмента, 4 + 2.
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	for i := range posts {
		if err := parser.ParseMedia(context.Background(), &posts[i]); err != nil {
			t.Fatalf("ParseMedia: %v", err)
		}
	}
	if len(posts[0].Media) != 4 || len(posts[1].Media) != 2 {
		t.Fatalf("media split = %d/%d, want 4/2", len(posts[0].Media), len(posts[1].Media))
	}
}

func TestImageOnlyPostsKeepDistinctIdentity(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{messages: []telegram.Message{
		photo(1, base),
		photo(2, base.Add(5*time.Minute)),
	}}
	parser, _ := newParser(t, gw, 500)

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	posts := parser.PostProcess("chan", raw)

	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].ID == posts[1].ID {
		t.Fatalf("image-only posts share id %q", posts[0].ID)
	}
	if posts[0].Group == posts[1].Group {
		t.Fatalf("image-only posts share group %q", posts[0].Group)
	}

	// Разные логические посты без текста обязаны пережить дедупликацию очереди.
	q := queue.New(filepath.Join(t.TempDir(), "queue.yaml"))
	q.Append(posts[0])
	q.Append(posts[1])
	if removed := q.Deduplicate(); removed != 0 {
		t.Fatalf("Deduplicate() = %d, want 0", removed)
	}
}

func TestSplittingBelowMarkerBudget(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{messages: []telegram.Message{
		{ID: 1, Text: "abcdef", Date: base},
	}}
	// Лимит меньше бюджета маркера треда: нарезка вырождается в посимвольную.
	parser, _ := newParser(t, gw, 8)

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	posts := parser.PostProcess("chan", raw)

	if len(posts) != 6 {
		t.Fatalf("got %d posts, want 6 (one rune per segment)", len(posts))
	}
	for i, qp := range posts {
		if !strings.HasPrefix(qp.Text, string(rune('a'+i))) {
			t.Fatalf("segment %d text = %q, want prefix %q", i, qp.Text, string(rune('a'+i)))
		}
	}
}

func TestParseMediaSkipsFailedDownload(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{
		messages: []telegram.Message{
			{ID: 1, Text: "caption", Date: base},
			photo(2, base.Add(time.Second)),
			photo(3, base.Add(2*time.Second)),
		},
		failIDs: map[int]bool{2: true},
	}
	parser, _ := newParser(t, gw, 500)

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	posts := parser.PostProcess("chan", raw)
	if err := parser.ParseMedia(context.Background(), &posts[0]); err != nil {
		t.Fatalf("ParseMedia: %v", err)
	}

	if len(posts[0].Media) != 1 {
		t.Fatalf("got %d media, want 1 (failed download skipped)", len(posts[0].Media))
	}
}

func TestSeenStatePersistsAndBoundsFetch(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{messages: []telegram.Message{
		{ID: 1, Text: "old", Date: base},
		{ID: 2, Text: "new", Date: base.Add(2 * time.Minute)},
	}}
	parser, doc := newParser(t, gw, 500)

	if err := parser.MarkSeen("chan", []string{"1"}); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !parser.AlreadySeen("chan", "1") {
		t.Fatal("id 1 must be seen")
	}

	raw, err := parser.FetchRaw(context.Background(), "chan")
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	if len(raw) != 1 || raw[0].ID != "2" {
		t.Fatalf("fetch after seen boundary returned %d posts", len(raw))
	}

	// Формат на диске: entity_<id> → номера сообщений.
	reloaded, err := storage.LoadDocument(doc.Path())
	if err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if got := storage.Ints(reloaded.Get("entity_100")); len(got) != 1 || got[0] != 1 {
		t.Fatalf("entity_100 = %v, want [1]", got)
	}
}

func TestFormatPostShowName(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	doc, err := storage.LoadDocument(filepath.Join(t.TempDir(), "telegram.yaml"))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	cfg := &config.Config{}
	cfg.Default.MaxLength = 500
	cfg.TelegramParser.Chats = []config.TelegramChat{{ID: 7, Name: "news", ShowName: true}}
	parser, err := telegram.New(cfg, gw, doc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	qp := post.QueuePost{Text: "body"}
	parser.FormatPost("news", &qp)
	if qp.Text != "news:\n\nbody" {
		t.Fatalf("text = %q", qp.Text)
	}
}

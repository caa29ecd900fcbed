// Package feeds — парсер RSS/Atom-фидов. Забирает записи через gofeed,
// нормализует их в QueuePost и запоминает уже виденные URL (без схемы, чтобы
// http/https одного ресурса схлопывались). Скачивание найденных картинок
// откладывается до публикации: в медиа записывается только URL.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"fedibot/internal/domain/post"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/storage"
	"fedibot/internal/parsers"
)

const (
	// fetchTimeout ограничивает запрос одного фида.
	fetchTimeout = 30 * time.Second
	// fetchRate — вежливый темп опроса фидов в пределах одного запуска.
	fetchRate = rate.Limit(1)
	// userAgent представляет бота владельцам фидов.
	userAgent = "fedibot/1.0 (+https://fedibot.invalid)"
)

// Entry — сырое содержимое одной записи фида. Живёт в RawContent поста
// до форматирования и на диск не попадает.
type Entry struct {
	Title string
	Body  string
	URL   string
}

// Parser реализует parsers.Parser для набора настроенных фидов.
type Parser struct {
	sites        map[string]config.FeedSite
	doc          *storage.Document
	seen         map[string]*parsers.SeenSet
	feedLanguage map[string]string
	fp           *gofeed.Parser
	limiter      *rate.Limiter
	maxLength    int
	mergeContent bool
	defaultLang  string
}

var _ parsers.Parser = (*Parser)(nil)

// New создаёт парсер фидов поверх конфигурации и документа seen-состояния.
func New(cfg *config.Config, doc *storage.Document) *Parser {
	fp := gofeed.NewParser()
	fp.UserAgent = userAgent
	fp.Client = &http.Client{Timeout: fetchTimeout}

	sites := make(map[string]config.FeedSite, len(cfg.FeedParser.Sites))
	for _, site := range cfg.FeedParser.Sites {
		key := site.Name
		if key == "" {
			key = site.URL
		}
		sites[key] = site
	}

	return &Parser{
		sites:        sites,
		doc:          doc,
		seen:         make(map[string]*parsers.SeenSet, len(sites)),
		feedLanguage: make(map[string]string, len(sites)),
		fp:           fp,
		limiter:      rate.NewLimiter(fetchRate, 1),
		maxLength:    cfg.MaxLength(),
		mergeContent: cfg.Default.MergeContent,
		defaultLang:  cfg.DefaultLanguage(),
	}
}

// Name возвращает имя парсера.
func (p *Parser) Name() string { return "feeds" }

// Sources возвращает настроенные фиды по их ключу.
func (p *Parser) Sources() map[string]parsers.SourceParams {
	out := make(map[string]parsers.SourceParams, len(p.sites))
	for key, site := range p.sites {
		out[key] = parsers.SourceParams{
			Name:            site.Name,
			KeywordsProfile: site.KeywordsFilterProfile,
		}
	}
	return out
}

// FetchRaw скачивает и разбирает фид источника, возвращая сырые посты
// в хронологическом порядке. Записи без тела или без даты отбрасываются.
func (p *Parser) FetchRaw(ctx context.Context, source string) ([]post.QueuePost, error) {
	site, ok := p.sites[source]
	if !ok {
		return nil, fmt.Errorf("%w: unknown feed source %q", parsers.ErrSourceMalformed, source)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", parsers.ErrSourceUnreachable, err)
	}

	feed, err := p.fp.ParseURLWithContext(site.URL, ctx)
	if err != nil {
		return nil, classifyFetchError(site.URL, err)
	}

	// Язык фида нужен позже, при разрешении языка поста.
	p.feedLanguage[source] = feed.Language

	items := make([]*gofeed.Item, len(feed.Items))
	copy(items, feed.Items)
	sort.SliceStable(items, func(i, j int) bool {
		return entryTime(items[i]).Before(entryTime(items[j]))
	})

	out := make([]post.QueuePost, 0, len(items))
	for _, item := range items {
		if item.Link == "" {
			logger.Debugf("feeds: %s: discarding entry without link", source)
			continue
		}

		body := item.Description
		if body == "" {
			body = item.Content
		}
		if body == "" {
			logger.Debugf("feeds: %s: discarding entry %q: no summary nor description", source, item.Title)
			continue
		}

		published, ok := entryPublished(item)
		if !ok {
			logger.Debugf("feeds: %s: discarding entry %q: no usable published date", source, item.Title)
			continue
		}

		id := StripScheme(item.Link)
		out = append(out, post.QueuePost{
			ID:                 id,
			Action:             post.NewAction(),
			Language:           p.resolveLanguage(source, site),
			PublishedAt:        published,
			RawContent:         &Entry{Title: item.Title, Body: body, URL: item.Link},
			RawCombinedContent: item.Title + " " + body,
		})
	}
	return out, nil
}

// AlreadySeen сообщает, встречался ли URL (без схемы) для данного фида.
func (p *Parser) AlreadySeen(source, id string) bool {
	return p.seenSet(source).Has(id)
}

// MarkSeen дописывает URL в множество источника и сохраняет документ состояния.
func (p *Parser) MarkSeen(source string, ids []string) error {
	site, ok := p.sites[source]
	if !ok {
		return fmt.Errorf("unknown feed source %q", source)
	}

	seen := p.seenSet(source)
	grown := false
	for _, id := range ids {
		if seen.Add(id) {
			grown = true
		}
	}
	if !grown {
		return nil
	}

	p.doc.SetHashed(site.URL, map[string]any{"urls_seen": seen.Values()})
	if err := p.doc.Write(); err != nil {
		return fmt.Errorf("save feeds state: %w", err)
	}
	return nil
}

// PostProcess для фидов — тождество: одна запись, один пост.
func (p *Parser) PostProcess(_ string, posts []post.QueuePost) []post.QueuePost {
	return posts
}

// seenSet лениво поднимает множество виденных URL источника из документа.
func (p *Parser) seenSet(source string) *parsers.SeenSet {
	if seen, ok := p.seen[source]; ok {
		return seen
	}

	var stored []string
	if site, ok := p.sites[source]; ok {
		if data, ok := p.doc.GetHashed(site.URL).(map[string]any); ok {
			stored = storage.Strings(data["urls_seen"])
		}
	}
	seen := parsers.NewSeenSet(stored)
	p.seen[source] = seen
	return seen
}

// resolveLanguage реализует приоритет выбора языка поста: принудительный
// язык источника, затем язык фида, затем язык источника, затем общий дефолт.
func (p *Parser) resolveLanguage(source string, site config.FeedSite) string {
	if site.LanguageOverride && site.LanguageDefault != "" {
		return site.LanguageDefault
	}
	if lang := p.feedLanguage[source]; lang != "" {
		return lang
	}
	if site.LanguageDefault != "" {
		return site.LanguageDefault
	}
	return p.defaultLang
}

// entryPublished возвращает время публикации записи: сперва уже разобранное
// gofeed значение, затем попытка разобрать сырое поле published.
func entryPublished(item *gofeed.Item) (time.Time, bool) {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC(), true
	}
	if item.Published != "" {
		for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339, time.RFC822Z, time.RFC822} {
			if ts, err := time.Parse(layout, item.Published); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// entryTime — время для сортировки; записи без даты уходят в конец.
func entryTime(item *gofeed.Item) time.Time {
	if ts, ok := entryPublished(item); ok {
		return ts
	}
	return time.Unix(1<<62, 0)
}

// classifyFetchError разводит сетевые сбои и кривой контент по таксономии ошибок.
func classifyFetchError(feedURL string, err error) error {
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: fetch %s: %v", parsers.ErrSourceUnreachable, feedURL, err)
	}
	return fmt.Errorf("%w: parse %s: %v", parsers.ErrSourceMalformed, feedURL, err)
}

// StripScheme убирает http/https-схему из URL, оставляя "//host/path".
// Так http и https одного ресурса дают одинаковый идентификатор.
func StripScheme(link string) string {
	lower := strings.ToLower(link)
	switch {
	case strings.HasPrefix(lower, "https:"):
		return link[len("https:"):]
	case strings.HasPrefix(lower, "http:"):
		return link[len("http:"):]
	default:
		return link
	}
}

// Package app — оркестратор прогона: собирает активные парсеры, гоняет каждый
// источник по цепочке fetch → seen → окно свежести → фильтр ключевых слов →
// seen-отметка → post-process → медиа → формат → очередь, затем отдаёт очередь
// издателю. Парсеры работают последовательно; сбой одного источника не
// прерывает прогон.
package app

import (
	"context"
	"fmt"
	"time"

	"fedibot/internal/adapters/fediverse"
	tgadapter "fedibot/internal/adapters/telegram"
	"fedibot/internal/domain/filters"
	"fedibot/internal/domain/post"
	"fedibot/internal/domain/publisher"
	"fedibot/internal/domain/queue"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/storage"
	"fedibot/internal/janitor"
	"fedibot/internal/parsers"
	"fedibot/internal/parsers/feeds"
	"fedibot/internal/parsers/mastodon"
	tgparser "fedibot/internal/parsers/telegram"
)

// ingestWindowMonths — окно свежести: посты старше отбрасываются при приёме.
const ingestWindowMonths = 6

// App связывает конфигурацию с подсистемами и реализует команды CLI.
type App struct {
	cfg *config.Config
}

// New создаёт приложение поверх загруженной конфигурации.
func New(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Run выполняет полный цикл: приём из всех активных источников, затем
// публикация очереди. Необработанный сбой уходит в janitor (если включён)
// и возвращается вызывающему.
func (a *App) Run(ctx context.Context) error {
	err := a.run(ctx)
	if err != nil {
		a.notifyJanitor(ctx, err)
	}
	return err
}

func (a *App) run(ctx context.Context) error {
	q, err := a.loadQueue()
	if err != nil {
		return err
	}

	api, err := fediverse.Connect(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", a.cfg.App.APIBaseURL, err)
	}

	engine := filters.NewEngine(a.cfg.KeywordsFilter)
	before := q.Length()

	a.ingestAll(ctx, q, engine, api)
	logger.Infof("queue: %d post(s) pending, %d added this run", q.Length(), q.Length()-before)

	return publisher.New(a.cfg, api, q).PublishAll(ctx)
}

// loadQueue поднимает очередь публикаций с диска. Битый файл очереди —
// фатальная ошибка конфигурации: молча затирать состояние нельзя.
func (a *App) loadQueue() (*queue.Queue, error) {
	q := queue.New(a.cfg.TootsQueue.File)
	n, err := q.Load()
	if err != nil {
		return nil, fmt.Errorf("load queue %q: %w", a.cfg.TootsQueue.File, err)
	}
	if n > 0 {
		logger.Infof("queue: loaded %d pending post(s)", n)
	}
	return q, nil
}

// ingestAll прогоняет все активные парсеры. Парсер активен, если для него
// настроен хотя бы один источник; сбой инициализации парсера логируется и
// не прерывает приём из остальных.
func (a *App) ingestAll(ctx context.Context, q *queue.Queue, engine *filters.Engine, api fediverse.API) {
	if len(a.cfg.FeedParser.Sites) > 0 {
		doc, err := storage.LoadDocument(a.cfg.FeedParser.StorageFile)
		if err != nil {
			logger.Errorf("feeds: load state: %v", err)
		} else {
			a.ingestParser(ctx, q, engine, feeds.New(a.cfg, doc))
		}
	}

	if a.cfg.TelegramParser.APIID != 0 && len(a.cfg.TelegramParser.Conversations()) > 0 {
		a.ingestTelegram(ctx, q, engine)
	}

	if len(a.cfg.MastodonParser.Accounts) > 0 {
		doc, err := storage.LoadDocument(a.cfg.MastodonParser.StorageFile)
		if err != nil {
			logger.Errorf("mastodon: load state: %v", err)
		} else {
			a.ingestParser(ctx, q, engine, mastodon.New(a.cfg, api, doc))
		}
	}
}

// ingestTelegram поднимает MTProto-клиент на время приёма telegram-источников.
func (a *App) ingestTelegram(ctx context.Context, q *queue.Queue, engine *filters.Engine) {
	client, err := tgadapter.NewClient(a.cfg)
	if err != nil {
		logger.Errorf("telegram: init client: %v", err)
		return
	}
	if err := client.Connect(ctx); err != nil {
		logger.Errorf("telegram: %v", err)
		return
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warnf("telegram: close client: %v", err)
		}
	}()

	doc, err := storage.LoadDocument(a.cfg.TelegramParser.StorageFile)
	if err != nil {
		logger.Errorf("telegram: load state: %v", err)
		return
	}
	parser, err := tgparser.New(a.cfg, client, doc)
	if err != nil {
		logger.Errorf("telegram: init parser: %v", err)
		return
	}
	a.ingestParser(ctx, q, engine, parser)
}

// ingestParser прогоняет все источники парсера и закрывает его вклад
// обслуживанием очереди: дедупликация, сортировка, сохранение. Так сбой
// следующего парсера не теряет уже принятое.
func (a *App) ingestParser(ctx context.Context, q *queue.Queue, engine *filters.Engine, p parsers.Parser) {
	for source, params := range p.Sources() {
		a.ingestSource(ctx, q, engine, p, source, params)
	}

	if removed := q.Deduplicate(); removed > 0 {
		logger.Infof("%s: dropped %d duplicate queue entr(ies)", p.Name(), removed)
	}
	q.Sort()
	if err := q.Save(); err != nil {
		logger.Errorf("%s: save queue: %v", p.Name(), err)
	}
}

// ingestSource — цепочка приёма одного источника. Порядок шагов фиксирован:
// отметка seen выполняется ДО post-process, пока живы исходные ID апстрима.
func (a *App) ingestSource(ctx context.Context, q *queue.Queue, engine *filters.Engine, p parsers.Parser, source string, params parsers.SourceParams) {
	raw, err := p.FetchRaw(ctx, source)
	if err != nil {
		logger.Warnf("%s: %s: %v", p.Name(), source, err)
		return
	}

	cutoff := time.Now().AddDate(0, -ingestWindowMonths, 0)
	fresh := make([]post.QueuePost, 0, len(raw))
	seenIDs := make([]string, 0, len(raw))
	var alreadySeen, tooOld, filtered int

	for _, item := range raw {
		if p.AlreadySeen(source, item.ID) {
			alreadySeen++
			continue
		}
		if !item.PublishedAt.IsZero() && item.PublishedAt.Before(cutoff) {
			tooOld++
			continue
		}
		if params.KeywordsProfile != "" {
			allowed, filterErr := engine.ProfileAllows(params.KeywordsProfile, item.RawCombinedContent)
			if filterErr != nil {
				logger.Warnf("%s: %s: keywords filter: %v", p.Name(), source, filterErr)
			} else if !allowed {
				filtered++
				continue
			}
		}
		fresh = append(fresh, item)
		seenIDs = append(seenIDs, item.ID)
	}

	// MarkSeen вызывается и при пустом списке: mastodon-парсер сохраняет
	// в нём сдвиг last_seen_toot.
	if err := p.MarkSeen(source, seenIDs); err != nil {
		logger.Errorf("%s: %s: mark seen: %v", p.Name(), source, err)
	}

	processed := p.PostProcess(source, fresh)
	enqueued := 0
	for i := range processed {
		if err := p.ParseMedia(ctx, &processed[i]); err != nil {
			logger.Warnf("%s: %s: parse media for %s: %v", p.Name(), source, processed[i].ID, err)
		}
		p.FormatPost(source, &processed[i])
		q.Append(processed[i])
		enqueued++
	}

	logger.Infof("%s: %s: fetched %d, already seen %d, too old %d, filtered %d, enqueued %d",
		p.Name(), source, len(raw), alreadySeen, tooOld, filtered, enqueued)
}

// notifyJanitor пересылает необработанный сбой прогона на удалённый janitor.
// Гейты: janitor.active, непустой remote_url, выключенный dry_run. Сбой
// доставки логируется и не маскирует исходную ошибку.
func (a *App) notifyJanitor(ctx context.Context, runErr error) {
	if !a.cfg.Janitor.Active || a.cfg.Janitor.RemoteURL == "" || a.cfg.Publisher.DryRun {
		return
	}

	client := janitor.New(a.cfg.Janitor.RemoteURL, a.cfg.App.Name)
	summary := fmt.Sprintf("%s failed: %v", a.cfg.App.Name, runErr)
	message := fmt.Sprintf("```\n%v\n```", runErr)
	if err := client.Error(ctx, summary, message); err != nil {
		logger.Warnf("janitor: deliver failure report: %v", err)
	}
}

// Package publisher осушает очередь публикаций: выполняет действия постов на
// удалённом инстансе, связывает посты одной группы в тред через in_reply_to и
// фиксирует очередь на диске после прохода. Сбой публикации ретраится с паузой,
// после исчерпания попыток пост отбрасывается, очередь продолжает осушаться.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"fedibot/internal/adapters/fediverse"
	"fedibot/internal/domain/post"
	"fedibot/internal/domain/queue"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
)

const (
	// maxRetries — число попыток одной публикации до отбрасывания поста.
	maxRetries = 3
	// retrySleep — пауза между попытками.
	retrySleep = 10 * time.Second

	ellipsis = "..."
)

// ErrMediaUnavailable — вложение не удалось скачать или загрузить.
// Не фатально для поста: вложение пропускается, пост публикуется без него.
var ErrMediaUnavailable = errors.New("media unavailable")

// Publisher публикует посты очереди на удалённом инстансе.
type Publisher struct {
	api   fediverse.API
	queue *queue.Queue
	hc    *http.Client

	dryRun      bool
	onlyOldest  bool
	maxLength   int
	mediaDir    string
	visibility  string
	contentType string

	sleep func(time.Duration)
}

// Option настраивает публикатор при создании.
type Option func(*Publisher)

// WithSleep подменяет паузу между попытками; нужно тестам.
func WithSleep(sleep func(time.Duration)) Option {
	return func(p *Publisher) { p.sleep = sleep }
}

// New собирает публикатор поверх клиента инстанса и очереди.
func New(cfg *config.Config, api fediverse.API, q *queue.Queue, opts ...Option) *Publisher {
	p := &Publisher{
		api:         api,
		queue:       q,
		hc:          &http.Client{Timeout: 60 * time.Second},
		dryRun:      cfg.Publisher.DryRun,
		onlyOldest:  cfg.Publisher.OnlyOldest(),
		maxLength:   cfg.App.StatusParams.MaxLength,
		mediaDir:    cfg.Publisher.MediaStorage,
		visibility:  cfg.App.StatusParams.Visibility,
		contentType: cfg.App.StatusParams.ContentType,
		sleep:       time.Sleep,
	}
	if p.maxLength == 0 {
		p.maxLength = cfg.MaxLength()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishAll осушает очередь с головы. Посты одной группы публикуются подряд
// как тред; только после завершения группы действует ограничение only_oldest.
// В dry-run удалённые вызовы подавлены и очередь не сохраняется: прогон
// идемпотентен.
func (p *Publisher) PublishAll(ctx context.Context) error {
	if p.queue.IsEmpty() {
		logger.Infof("Publisher: the queue is empty, skipping")
		return nil
	}
	if p.dryRun {
		logger.Infof("Publisher: dry run, remote calls are suppressed")
	}

	previousID := ""
	for !p.queue.IsEmpty() {
		current, _ := p.queue.PopFront()

		if result := p.executeAction(ctx, current, previousID); result != nil {
			previousID = result.ID
			logger.Debugf("Publisher: post %s published as %s", current.ID, result.ID)
		} else {
			// Сбой, пропуск или dry-run: связь треда обрывается.
			previousID = ""
		}

		if previousID != "" && p.nextMatchesGroup(current.Group) {
			logger.Debugf("Publisher: more posts in group %s, continuing the thread", current.Group)
			continue
		}
		previousID = ""
		if p.onlyOldest {
			logger.Infof("Publisher: publishing only the oldest, finishing")
			break
		}
	}

	if p.dryRun {
		return nil
	}
	return p.queue.Save()
}

// nextMatchesGroup сообщает, принадлежит ли голова очереди той же группе.
func (p *Publisher) nextMatchesGroup(group string) bool {
	if group == "" {
		return false
	}
	next, ok := p.queue.First()
	return ok && next.Group == group
}

// executeAction выполняет действие поста. nil — пост не опубликован
// (dry-run, пропуск или исчерпанные попытки) и отброшен.
func (p *Publisher) executeAction(ctx context.Context, qp post.QueuePost, previousID string) *fediverse.Status {
	if p.dryRun {
		logger.Infof("Publisher: dry run: would execute %s for post %s", qp.Action.String(), qp.ID)
		return nil
	}

	if qp.Action.IsReblog() {
		logger.Infof("Publisher: reblogging status %s", qp.Action.RemoteID)
		return p.withRetries(fmt.Sprintf("reblog of %s", qp.Action.RemoteID), func() (*fediverse.Status, error) {
			return p.api.Reblog(ctx, qp.Action.RemoteID)
		})
	}
	return p.publishNew(ctx, qp, previousID)
}

// publishNew загружает вложения, подгоняет текст под лимит и создаёт статус.
func (p *Publisher) publishNew(ctx context.Context, qp post.QueuePost, previousID string) *fediverse.Status {
	mediaIDs := p.uploadMedia(ctx, qp.Media)

	text := truncate(qp.Text, p.maxLength)
	if strings.TrimSpace(text) == "" && len(mediaIDs) == 0 {
		logger.Warnf("Publisher: post %s has neither text nor media, dropping", qp.ID)
		return nil
	}

	params := fediverse.StatusParams{
		Text:        text,
		Language:    qp.Language,
		SpoilerText: qp.Summary,
		InReplyToID: previousID,
		MediaIDs:    mediaIDs,
		Visibility:  p.visibility,
		ContentType: p.contentType,
	}
	return p.withRetries(fmt.Sprintf("post %s", qp.ID), func() (*fediverse.Status, error) {
		return p.api.PostStatus(ctx, params)
	})
}

// uploadMedia переносит вложения на инстанс в исходном порядке. Вложение без
// локального файла сначала скачивается по URL. Непригодные и сорвавшиеся
// вложения пропускаются, остальные публикуются.
func (p *Publisher) uploadMedia(ctx context.Context, media []post.Media) []string {
	ids := make([]string, 0, len(media))
	for _, m := range media {
		localPath := m.Path
		if localPath == "" {
			if m.URL == "" {
				logger.Warnf("Publisher: media entry has neither url nor path, skipping")
				continue
			}
			downloaded, err := p.downloadMedia(ctx, m.URL)
			if err != nil {
				logger.Warnf("Publisher: %v, skipping", fmt.Errorf("%w: %s: %v", ErrMediaUnavailable, m.URL, err))
				continue
			}
			localPath = downloaded
		}

		id, err := p.api.UploadMedia(ctx, localPath, m.AltText)
		if err != nil {
			logger.Warnf("Publisher: %v, skipping", fmt.Errorf("%w: %s: %v", ErrMediaUnavailable, localPath, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// downloadMedia скачивает вложение в каталог медиа и возвращает путь к файлу.
func (p *Publisher) downloadMedia(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(p.mediaDir, 0o750); err != nil {
		return "", err
	}
	name := path.Base(req.URL.Path)
	if name == "" || name == "." || name == "/" {
		name = "media"
	}
	target := filepath.Join(p.mediaDir, name)

	file, err := os.Create(target) // #nosec G304 -- имя строится внутри каталога медиа
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return target, nil
}

// withRetries выполняет вызов до maxRetries раз с паузой между попытками.
// nil после исчерпания: пост отбрасывается, очередь продолжает осушаться.
func (p *Publisher) withRetries(op string, call func() (*fediverse.Status, error)) *fediverse.Status {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		status, err := call()
		if err == nil {
			return status
		}
		logger.Warnf("Publisher: %s failed (attempt %d/%d): %v", op, attempt, maxRetries, err)
		if attempt < maxRetries {
			p.sleep(retrySleep)
		}
	}
	logger.Errorf("Publisher: %s failed %d times, discarding", op, maxRetries)
	return nil
}

// truncate обрезает текст до limit рун, заменяя хвост многоточием.
func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := limit - utf8.RuneCountInString(ellipsis)
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + ellipsis
}

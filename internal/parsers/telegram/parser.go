// Package telegram — парсер Telegram-чатов и каналов. Апстрим отдаёт поток
// отдельных сообщений, хотя один логический пост может занимать несколько
// (картинки отдельными сообщениями плюс сообщение с текстом в пределах секунд).
// Здесь живёт движок восстановления логических постов: группировка по паузам
// и наличию текста, нарезка длинных тел на сегменты треда и раскладка медиа
// по сегментам. Сетевую работу выполняет Gateway.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fedibot/internal/domain/post"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/storage"
	"fedibot/internal/parsers"
)

// Parser реализует parsers.Parser для набора чатов и каналов.
type Parser struct {
	gw            Gateway
	doc           *storage.Document
	chats         map[string]config.TelegramChat
	seen          map[string]*parsers.SeenSet
	ignoreOffsets bool
	startDate     time.Time
	maxLength     int
	mediaDir      string
	defaultLang   string
}

var _ parsers.Parser = (*Parser)(nil)

// New создаёт парсер Telegram поверх шлюза, конфигурации и документа состояния.
// Ошибка возможна только из-за неразборной date_to_start_from.
func New(cfg *config.Config, gw Gateway, doc *storage.Document) (*Parser, error) {
	startDate, err := cfg.TelegramParser.StartDate()
	if err != nil {
		return nil, err
	}

	conversations := cfg.TelegramParser.Conversations()
	chats := make(map[string]config.TelegramChat, len(conversations))
	for _, chat := range conversations {
		chats[sourceKey(chat)] = chat
	}

	return &Parser{
		gw:            gw,
		doc:           doc,
		chats:         chats,
		seen:          make(map[string]*parsers.SeenSet, len(chats)),
		ignoreOffsets: cfg.TelegramParser.IgnoreOffsets,
		startDate:     startDate,
		maxLength:     cfg.MaxLength(),
		mediaDir:      cfg.Publisher.MediaStorage,
		defaultLang:   cfg.DefaultLanguage(),
	}, nil
}

// sourceKey — ключ источника: имя разговора либо его идентификатор.
func sourceKey(chat config.TelegramChat) string {
	if chat.Name != "" {
		return chat.Name
	}
	return strconv.FormatInt(chat.ID, 10)
}

// Name возвращает имя парсера.
func (p *Parser) Name() string { return "telegram" }

// Sources возвращает настроенные разговоры по их ключу.
func (p *Parser) Sources() map[string]parsers.SourceParams {
	out := make(map[string]parsers.SourceParams, len(p.chats))
	for key, chat := range p.chats {
		out[key] = parsers.SourceParams{
			Name:            chat.Name,
			KeywordsProfile: chat.KeywordsFilterProfile,
		}
	}
	return out
}

// FetchRaw выгружает новые сообщения разговора от старых к новым.
// Сообщения без текста и без вложения отбрасываются сразу: им нечего публиковать.
func (p *Parser) FetchRaw(ctx context.Context, source string) ([]post.QueuePost, error) {
	chat, ok := p.chats[source]
	if !ok {
		return nil, fmt.Errorf("%w: unknown telegram source %q", parsers.ErrSourceMalformed, source)
	}

	minID := 0
	startDate := time.Time{}
	if !p.ignoreOffsets {
		minID = p.maxSeenID(source)
		startDate = p.startDate
	}

	messages, err := p.gw.Messages(ctx, chat.ID, minID, startDate)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation %s: %v", parsers.ErrSourceUnreachable, source, err)
	}

	language := chat.Language
	if language == "" {
		language = p.defaultLang
	}

	out := make([]post.QueuePost, 0, len(messages))
	for _, msg := range messages {
		if msg.Text == "" && msg.File == nil {
			logger.Debugf("telegram: %s: discarding message %d: no text nor media", source, msg.ID)
			continue
		}
		out = append(out, post.QueuePost{
			ID:                 strconv.Itoa(msg.ID),
			Action:             post.NewAction(),
			Language:           language,
			PublishedAt:        msg.Date,
			RawContent:         msg,
			RawCombinedContent: msg.Text,
		})
	}
	return out, nil
}

// AlreadySeen сообщает, обработан ли номер сообщения для разговора.
func (p *Parser) AlreadySeen(source, id string) bool {
	return p.seenSet(source).Has(id)
}

// MarkSeen дописывает номера сообщений и сохраняет документ telegram-состояния.
// Формат на диске: entity_<id> → список номеров сообщений.
func (p *Parser) MarkSeen(source string, ids []string) error {
	chat, ok := p.chats[source]
	if !ok {
		return fmt.Errorf("unknown telegram source %q", source)
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

	values := seen.Values()
	numbers := make([]int, 0, len(values))
	for _, v := range values {
		if n, err := strconv.Atoi(v); err == nil {
			numbers = append(numbers, n)
		}
	}
	p.doc.Set(entityKey(chat.ID), numbers)
	if err := p.doc.Write(); err != nil {
		return fmt.Errorf("save telegram state: %w", err)
	}
	return nil
}

// ParseMedia скачивает вложения, назначенные посту при нарезке.
// Сбой одного вложения не валит пост: файл пропускается, остальные скачиваются.
func (p *Parser) ParseMedia(ctx context.Context, qp *post.QueuePost) error {
	pending, ok := qp.RawContent.([]Message)
	if !ok || len(pending) == 0 {
		return nil
	}

	for _, msg := range pending {
		if msg.File == nil {
			continue
		}
		path, err := p.gw.DownloadFile(ctx, msg, p.mediaDir)
		if err != nil {
			logger.Warnf("telegram: media of message %d unavailable, publishing without it: %v", msg.ID, err)
			continue
		}
		qp.Media = append(qp.Media, post.Media{Path: path, MimeType: msg.File.MimeType})
	}
	return nil
}

// FormatPost добавляет имя разговора в начало текста, если источник так настроен.
func (p *Parser) FormatPost(source string, qp *post.QueuePost) {
	chat, ok := p.chats[source]
	if !ok {
		return
	}
	if chat.ShowName && chat.Name != "" && qp.Text != "" {
		qp.Text = chat.Name + ":\n\n" + qp.Text
	}
}

// seenSet лениво поднимает множество номеров сообщений разговора из документа.
func (p *Parser) seenSet(source string) *parsers.SeenSet {
	if seen, ok := p.seen[source]; ok {
		return seen
	}

	var stored []string
	if chat, ok := p.chats[source]; ok {
		for _, n := range storage.Ints(p.doc.Get(entityKey(chat.ID))) {
			stored = append(stored, strconv.Itoa(n))
		}
	}
	seen := parsers.NewSeenSet(stored)
	p.seen[source] = seen
	return seen
}

// maxSeenID возвращает наибольший виденный номер сообщения источника.
func (p *Parser) maxSeenID(source string) int {
	max := 0
	for _, v := range p.seenSet(source).Values() {
		if n, err := strconv.Atoi(v); err == nil && n > max {
			max = n
		}
	}
	return max
}

// entityKey — ключ разговора в документе состояния.
func entityKey(id int64) string {
	if id < 0 {
		id = -id
	}
	return fmt.Sprintf("entity_%d", id)
}

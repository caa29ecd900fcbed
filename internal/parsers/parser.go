// Package parsers определяет единый контракт приёма контента: каждый парсер
// (фиды, Telegram, Mastodon) реализует одинаковый набор операций, а оркестратор
// гоняет их по одной и той же цепочке fetch → фильтры → seen → post-process →
// медиа → формат → очередь, не зная деталей источника.
package parsers

import (
	"context"
	"errors"

	"fedibot/internal/domain/post"
)

// Ошибки приёма. Обе трактуются оркестратором одинаково: источник пропускается,
// запуск продолжается. Разница — в причине: сеть против кривых данных.
var (
	// ErrSourceUnreachable — транзиентная сетевая ошибка апстрима.
	ErrSourceUnreachable = errors.New("source unreachable")
	// ErrSourceMalformed — апстрим ответил, но данные не разбираются.
	ErrSourceMalformed = errors.New("source malformed")
)

// SourceParams — параметры одного источника, которые нужны оркестратору
// снаружи парсера: отображаемое имя и ссылка на профиль фильтра ключевых слов.
// Остальные настройки источника парсер держит при себе.
type SourceParams struct {
	Name            string
	KeywordsProfile string
}

// Parser — контракт приёма для одного класса источников.
//
// Порядок вызовов фиксирован оркестратором: Sources → FetchRaw → AlreadySeen →
// MarkSeen → PostProcess → ParseMedia → FormatPost. MarkSeen вызывается ДО
// PostProcess: группировка может переписать идентификаторы постов, и отметка
// о просмотре должна опираться на исходные ID апстрима.
type Parser interface {
	// Name — имя парсера для логов и ключей состояния.
	Name() string

	// Sources возвращает настроенные источники по их ключу.
	Sources() map[string]SourceParams

	// FetchRaw забирает сырые посты источника: ID заполнены, фильтрация не
	// применялась. Возвращает ErrSourceUnreachable или ErrSourceMalformed.
	FetchRaw(ctx context.Context, source string) ([]post.QueuePost, error)

	// AlreadySeen сообщает, был ли идентификатор уже обработан для источника.
	AlreadySeen(source, id string) bool

	// MarkSeen помечает идентификаторы обработанными и сохраняет состояние
	// на диск до возврата. Идемпотентен.
	MarkSeen(source string, ids []string) error

	// PostProcess преобразует список постов источника (группировка, нарезка).
	// Для большинства парсеров — тождество.
	PostProcess(source string, posts []post.QueuePost) []post.QueuePost

	// ParseMedia наполняет post.Media. Может скачивать файлы сразу или
	// отложить скачивание до публикации, оставив только URL.
	ParseMedia(ctx context.Context, p *post.QueuePost) error

	// FormatPost выставляет итоговые text/summary поста.
	FormatPost(source string, p *post.QueuePost)
}

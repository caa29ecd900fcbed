// Package fediverse — тонкий адаптер к Mastodon-совместимому API.
// Публикатор и парсер аккаунтов работают с узким интерфейсом API и плоскими
// структурами; различия диалектов инстансов (mastodon/pleroma/firefish)
// спрятаны внутри реализации.
package fediverse

import (
	"context"
	"time"
)

// Account — аккаунт инстанса в объёме, нужном боту.
type Account struct {
	ID   string
	Acct string
}

// Status — статус инстанса в объёме, нужном парсеру и публикатору.
type Status struct {
	ID         string
	URL        string
	CreatedAt  time.Time
	Content    string
	Visibility string
	IsReply    bool
	ReblogOfID string
}

// StatusParams — параметры создаваемого статуса. ContentType уходит на
// провод только для инстансов, которые его понимают.
type StatusParams struct {
	Text        string
	Language    string
	SpoilerText string
	InReplyToID string
	MediaIDs    []string
	Visibility  string
	ContentType string
}

// API — операции удалённого инстанса, которые использует бот.
type API interface {
	// VerifyCredentials возвращает аккаунт самого бота.
	VerifyCredentials(ctx context.Context) (Account, error)

	// SearchAccount ищет аккаунт по строке пользователя.
	// Возвращает nil без ошибки, если ничего не найдено.
	SearchAccount(ctx context.Context, query string) (*Account, error)

	// Following возвращает аккаунты, на которые подписан accountID.
	Following(ctx context.Context, accountID string) ([]Account, error)

	// Follow подписывает бота на аккаунт.
	Follow(ctx context.Context, accountID string) error

	// AccountStatuses возвращает статусы аккаунта новее sinceID,
	// от новых к старым. Пустой sinceID — без нижней границы.
	AccountStatuses(ctx context.Context, accountID, sinceID string) ([]Status, error)

	// UploadMedia загружает файл вложения и возвращает его удалённый id.
	UploadMedia(ctx context.Context, path, description string) (string, error)

	// PostStatus создаёт статус и возвращает его.
	PostStatus(ctx context.Context, params StatusParams) (*Status, error)

	// Reblog продвигает чужой статус.
	Reblog(ctx context.Context, statusID string) (*Status, error)
}

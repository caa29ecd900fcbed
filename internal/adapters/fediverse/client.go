package fediverse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-mastodon"

	"fedibot/internal/infra/config"
)

// Client реализует API поверх github.com/mattn/go-mastodon.
// Для pleroma/firefish создание статуса с content_type уходит отдельным
// form-запросом: основная библиотека этого поля не знает.
type Client struct {
	mc           *mastodon.Client
	hc           *http.Client
	server       string
	accessToken  string
	instanceType string
}

var _ API = (*Client)(nil)

// NewClient собирает клиент инстанса по базовому URL, токену и типу инстанса.
func NewClient(server, accessToken, instanceType string) *Client {
	return &Client{
		mc: mastodon.NewClient(&mastodon.Config{
			Server:      server,
			AccessToken: accessToken,
		}),
		hc:           &http.Client{Timeout: 30 * time.Second},
		server:       strings.TrimRight(server, "/"),
		accessToken:  accessToken,
		instanceType: instanceType,
	}
}

// VerifyCredentials возвращает аккаунт самого бота.
func (c *Client) VerifyCredentials(ctx context.Context) (Account, error) {
	account, err := c.mc.GetAccountCurrentUser(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("verify credentials: %w", err)
	}
	return Account{ID: string(account.ID), Acct: account.Acct}, nil
}

// SearchAccount ищет аккаунт по строке пользователя; nil — ничего не найдено.
func (c *Client) SearchAccount(ctx context.Context, query string) (*Account, error) {
	accounts, err := c.mc.AccountsSearch(ctx, query, 1)
	if err != nil {
		return nil, fmt.Errorf("search account %q: %w", query, err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &Account{ID: string(accounts[0].ID), Acct: accounts[0].Acct}, nil
}

// Following возвращает подписки аккаунта.
func (c *Client) Following(ctx context.Context, accountID string) ([]Account, error) {
	following, err := c.mc.GetAccountFollowing(ctx, mastodon.ID(accountID), &mastodon.Pagination{Limit: 80})
	if err != nil {
		return nil, fmt.Errorf("list following of %s: %w", accountID, err)
	}
	out := make([]Account, 0, len(following))
	for _, account := range following {
		out = append(out, Account{ID: string(account.ID), Acct: account.Acct})
	}
	return out, nil
}

// Follow подписывает бота на аккаунт.
func (c *Client) Follow(ctx context.Context, accountID string) error {
	if _, err := c.mc.AccountFollow(ctx, mastodon.ID(accountID)); err != nil {
		return fmt.Errorf("follow %s: %w", accountID, err)
	}
	return nil
}

// AccountStatuses возвращает статусы аккаунта новее sinceID, от новых к старым.
func (c *Client) AccountStatuses(ctx context.Context, accountID, sinceID string) ([]Status, error) {
	var pg *mastodon.Pagination
	if sinceID != "" {
		pg = &mastodon.Pagination{SinceID: mastodon.ID(sinceID)}
	}
	statuses, err := c.mc.GetAccountStatuses(ctx, mastodon.ID(accountID), pg)
	if err != nil {
		return nil, fmt.Errorf("statuses of %s: %w", accountID, err)
	}
	out := make([]Status, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, convertStatus(status))
	}
	return out, nil
}

// UploadMedia загружает файл вложения и возвращает его удалённый id.
func (c *Client) UploadMedia(ctx context.Context, path, description string) (string, error) {
	file, err := os.Open(path) // #nosec G304 -- путь приходит из собственного каталога медиа
	if err != nil {
		return "", fmt.Errorf("open media %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	attachment, err := c.mc.UploadMediaFromMedia(ctx, &mastodon.Media{
		File:        file,
		Description: description,
	})
	if err != nil {
		return "", fmt.Errorf("upload media %s: %w", path, err)
	}
	return string(attachment.ID), nil
}

// PostStatus создаёт статус. Инстансы с поддержкой content_type получают
// form-запрос с этим полем, остальные — обычный вызов библиотеки.
func (c *Client) PostStatus(ctx context.Context, params StatusParams) (*Status, error) {
	if params.ContentType != "" && SupportsContentType(c.instanceType) {
		return c.postStatusForm(ctx, params)
	}

	mediaIDs := make([]mastodon.ID, 0, len(params.MediaIDs))
	for _, id := range params.MediaIDs {
		mediaIDs = append(mediaIDs, mastodon.ID(id))
	}
	status, err := c.mc.PostStatus(ctx, &mastodon.Toot{
		Status:      params.Text,
		Language:    params.Language,
		SpoilerText: params.SpoilerText,
		InReplyToID: mastodon.ID(params.InReplyToID),
		MediaIDs:    mediaIDs,
		Visibility:  params.Visibility,
	})
	if err != nil {
		return nil, fmt.Errorf("post status: %w", err)
	}
	converted := convertStatus(status)
	return &converted, nil
}

// Reblog продвигает чужой статус.
func (c *Client) Reblog(ctx context.Context, statusID string) (*Status, error) {
	status, err := c.mc.Reblog(ctx, mastodon.ID(statusID))
	if err != nil {
		return nil, fmt.Errorf("reblog %s: %w", statusID, err)
	}
	converted := convertStatus(status)
	return &converted, nil
}

// SupportsContentType сообщает, принимает ли тип инстанса поле content_type
// при создании статуса. Mainline Mastodon молча его игнорирует, не шлём.
func SupportsContentType(instanceType string) bool {
	return instanceType == config.InstancePleroma || instanceType == config.InstanceFirefish
}

// postStatusForm — создание статуса прямым form-запросом к /api/v1/statuses.
func (c *Client) postStatusForm(ctx context.Context, params StatusParams) (*Status, error) {
	form := url.Values{}
	form.Set("status", params.Text)
	form.Set("content_type", params.ContentType)
	if params.Language != "" {
		form.Set("language", params.Language)
	}
	if params.SpoilerText != "" {
		form.Set("spoiler_text", params.SpoilerText)
	}
	if params.InReplyToID != "" {
		form.Set("in_reply_to_id", params.InReplyToID)
	}
	if params.Visibility != "" {
		form.Set("visibility", params.Visibility)
	}
	for _, id := range params.MediaIDs {
		form.Add("media_ids[]", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/api/v1/statuses", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("post status: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("post status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		ID        string    `json:"id"`
		URL       string    `json:"url"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("post status: decode response: %w", err)
	}
	return &Status{ID: payload.ID, URL: payload.URL, CreatedAt: payload.CreatedAt}, nil
}

// convertStatus переводит статус библиотеки в плоскую структуру адаптера.
func convertStatus(status *mastodon.Status) Status {
	out := Status{
		ID:         string(status.ID),
		URL:        status.URL,
		CreatedAt:  status.CreatedAt,
		Content:    status.Content,
		Visibility: status.Visibility,
		IsReply:    status.InReplyToID != nil || status.InReplyToAccountID != nil,
	}
	if status.Reblog != nil {
		out.ReblogOfID = string(status.Reblog.ID)
	}
	return out
}

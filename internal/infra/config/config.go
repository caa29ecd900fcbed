// YAML-слой конфигурации: типизированное дерево config.yaml со всеми предметными
// настройками бота. Структура повторяет разделы документа: app, default,
// toots_queue_storage, publisher, парсеры, keywords_filter, janitor.
// Неизвестные ключи игнорируются; отсутствующие получают документированные
// значения по умолчанию в applyDefaults.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Типы инстансов Mastodon-совместимого API. Pleroma/Akkoma и Firefish принимают
// content_type при создании статуса и по умолчанию разрешают более длинные посты.
const (
	InstanceMastodon = "mastodon"
	InstancePleroma  = "pleroma"
	InstanceFirefish = "firefish"
)

// Значения по умолчанию для YAML-слоя.
const (
	defaultInstanceType      = InstanceMastodon
	defaultVisibility        = "public"
	defaultContentType       = "text/plain"
	defaultMaxLengthMastodon = 500
	defaultMaxLengthPleroma  = 5000
	defaultMaxSummaryLength  = 300
	defaultLanguage          = "en"

	defaultQueueFile        = "storage/queue.yaml"
	defaultFeedsFile        = "storage/feeds.yaml"
	defaultTelegramFile     = "storage/telegram.yaml"
	defaultAccountsFile     = "storage/accounts.yaml"
	defaultMediaDir         = "storage/media"
	defaultSessionFile      = "storage/session.bin"
	defaultPeersCacheFile   = "storage/peers_cache.bbolt"
	defaultClientCredsFile  = "client.secret"
	defaultUserCredsFile    = "user.secret"
	defaultTelegramDateForm = "2006-01-02"
)

// Config — корень типизированного дерева config.yaml.
type Config struct {
	App            App            `yaml:"app"`
	Default        Defaults       `yaml:"default"`
	TootsQueue     QueueStorage   `yaml:"toots_queue_storage"`
	Publisher      Publisher      `yaml:"publisher"`
	FeedParser     FeedParser     `yaml:"feed_parser"`
	TelegramParser TelegramParser `yaml:"telegram_parser"`
	MastodonParser MastodonParser `yaml:"mastodon_parser"`
	KeywordsFilter KeywordsFilter `yaml:"keywords_filter"`
	Janitor        Janitor        `yaml:"janitor"`
}

// App описывает подключение к целевому инстансу: имя приложения, базовый URL,
// тип инстанса, файлы учётных данных и параметры создаваемых статусов.
type App struct {
	Name              string       `yaml:"name"`
	APIBaseURL        string       `yaml:"api_base_url"`
	InstanceType      string       `yaml:"instance_type"`
	ClientCredentials string       `yaml:"client_credentials"`
	UserCredentials   string       `yaml:"user_credentials"`
	User              User         `yaml:"user"`
	StatusParams      StatusParams `yaml:"status_params"`
}

// User — учётные данные пользователя для логина, когда сохранённый токен отсутствует.
type User struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// StatusParams управляет созданием статусов: длина, тип контента, видимость.
type StatusParams struct {
	MaxLength   int    `yaml:"max_length"`
	ContentType string `yaml:"content_type"`
	Visibility  string `yaml:"visibility"`
}

// Defaults — общие параметры нормализации постов.
type Defaults struct {
	MaxLength    int  `yaml:"max_length"`
	MergeContent bool `yaml:"merge_content"`
}

// QueueStorage задаёт файл очереди публикаций.
type QueueStorage struct {
	File string `yaml:"file"`
}

// Publisher — поведение публикатора.
type Publisher struct {
	DryRun                       bool   `yaml:"dry_run"`
	MediaStorage                 string `yaml:"media_storage"`
	OnlyOlderToot                bool   `yaml:"only_older_toot"`
	OnlyOldestPostEveryIteration bool   `yaml:"only_oldest_post_every_iteration"`
}

// OnlyOldest сообщает, ограничен ли публикатор одной (старейшей) публикацией за
// запуск. Исторически ключа два; достаточно любого.
func (p Publisher) OnlyOldest() bool {
	return p.OnlyOlderToot || p.OnlyOldestPostEveryIteration
}

// FeedParser — настройки RSS/Atom-парсера и его источники.
type FeedParser struct {
	StorageFile string     `yaml:"storage_file"`
	Sites       []FeedSite `yaml:"sites"`
}

// FeedSite — один настроенный фид.
type FeedSite struct {
	Name                  string `yaml:"name"`
	URL                   string `yaml:"url"`
	LanguageDefault       string `yaml:"language_default"`
	LanguageOverride      bool   `yaml:"language_override"`
	ShowName              bool   `yaml:"show_name"`
	MaxSummaryLength      int    `yaml:"max_summary_length"`
	KeywordsFilterProfile string `yaml:"keywords_filter_profile"`
}

// TelegramParser — подключение к Telegram и список разговоров для разбора.
// Чаты и каналы обрабатываются одинаково, но перечисляются под разными ключами.
type TelegramParser struct {
	APIID           int            `yaml:"api_id"`
	APIHash         string         `yaml:"api_hash"`
	Phone           string         `yaml:"phone"`
	SessionFile     string         `yaml:"session_file"`
	PeersCacheFile  string         `yaml:"peers_cache_file"`
	StorageFile     string         `yaml:"storage_file"`
	IgnoreOffsets   bool           `yaml:"ignore_offsets"`
	DateToStartFrom string         `yaml:"date_to_start_from"`
	Chats           []TelegramChat `yaml:"chats"`
	Channels        []TelegramChat `yaml:"channels"`
}

// Conversations объединяет чаты и каналы в один список источников.
func (t TelegramParser) Conversations() []TelegramChat {
	out := make([]TelegramChat, 0, len(t.Chats)+len(t.Channels))
	out = append(out, t.Chats...)
	out = append(out, t.Channels...)
	return out
}

// StartDate разбирает date_to_start_from (YYYY-MM-DD). Пустое значение — нулевое время.
func (t TelegramParser) StartDate() (time.Time, error) {
	if t.DateToStartFrom == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(defaultTelegramDateForm, t.DateToStartFrom)
	if err != nil {
		return time.Time{}, fmt.Errorf("telegram_parser.date_to_start_from %q: %w", t.DateToStartFrom, err)
	}
	return ts, nil
}

// TelegramChat — один разговор (чат или канал) для разбора.
type TelegramChat struct {
	ID                    int64  `yaml:"id"`
	Name                  string `yaml:"name"`
	Language              string `yaml:"language"`
	ShowName              bool   `yaml:"show_name"`
	KeywordsFilterProfile string `yaml:"keywords_filter_profile"`
}

// MastodonParser — наблюдение за аккаунтами Mastodon-совместимых инстансов.
type MastodonParser struct {
	StorageFile          string            `yaml:"storage_file"`
	IgnoreTootsOffset    bool              `yaml:"ignore_toots_offset"`
	OnlyPublicVisibility bool              `yaml:"only_public_visibility"`
	Accounts             []MastodonAccount `yaml:"accounts"`
}

// MastodonAccount — один наблюдаемый аккаунт.
type MastodonAccount struct {
	User                  string `yaml:"user"`
	AutoFollow            bool   `yaml:"auto_follow"`
	Toots                 bool   `yaml:"toots"`
	Retoots               bool   `yaml:"retoots"`
	KeywordsFilterProfile string `yaml:"keywords_filter_profile"`
}

// KeywordsFilter — именованные профили ключевых слов.
type KeywordsFilter struct {
	Profiles map[string]KeywordProfile `yaml:"profiles"`
}

// KeywordProfile — один профиль: текст допускается, если найдено хотя бы одно слово.
type KeywordProfile struct {
	Keywords []string `yaml:"keywords"`
}

// Janitor — внешний приёмник сообщений об ошибках.
type Janitor struct {
	Active    bool   `yaml:"active"`
	RemoteURL string `yaml:"remote_url"`
}

// LoadFile читает и разбирает YAML-конфигурацию, применяет значения по умолчанию
// и валидирует дерево. Файл обязан существовать: без предметной конфигурации
// боту нечего делать.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MaxLength возвращает действующий лимит длины статуса: default.max_length либо
// диалектное значение инстанса (500 для Mastodon, 5000 для Pleroma/Firefish).
func (c *Config) MaxLength() int {
	if c.Default.MaxLength > 0 {
		return c.Default.MaxLength
	}
	switch c.App.InstanceType {
	case InstancePleroma, InstanceFirefish:
		return defaultMaxLengthPleroma
	default:
		return defaultMaxLengthMastodon
	}
}

// DefaultLanguage — язык постов, когда ни источник, ни апстрим его не сообщили.
func (c *Config) DefaultLanguage() string { return defaultLanguage }

// applyDefaults материализует документированные значения по умолчанию, чтобы
// компоненты всегда видели готовые пути и параметры.
func (c *Config) applyDefaults() {
	if c.App.InstanceType == "" {
		c.App.InstanceType = defaultInstanceType
	}
	if c.App.ClientCredentials == "" {
		c.App.ClientCredentials = defaultClientCredsFile
	}
	if c.App.UserCredentials == "" {
		c.App.UserCredentials = defaultUserCredsFile
	}
	if c.App.StatusParams.Visibility == "" {
		c.App.StatusParams.Visibility = defaultVisibility
	}
	if c.App.StatusParams.ContentType == "" {
		c.App.StatusParams.ContentType = defaultContentType
	}
	if c.App.StatusParams.MaxLength == 0 {
		c.App.StatusParams.MaxLength = c.MaxLength()
	}
	if c.TootsQueue.File == "" {
		c.TootsQueue.File = defaultQueueFile
	}
	if c.Publisher.MediaStorage == "" {
		c.Publisher.MediaStorage = defaultMediaDir
	}
	if c.FeedParser.StorageFile == "" {
		c.FeedParser.StorageFile = defaultFeedsFile
	}
	for i := range c.FeedParser.Sites {
		if c.FeedParser.Sites[i].MaxSummaryLength == 0 {
			c.FeedParser.Sites[i].MaxSummaryLength = defaultMaxSummaryLength
		}
	}
	if c.TelegramParser.StorageFile == "" {
		c.TelegramParser.StorageFile = defaultTelegramFile
	}
	if c.TelegramParser.SessionFile == "" {
		c.TelegramParser.SessionFile = defaultSessionFile
	}
	if c.TelegramParser.PeersCacheFile == "" {
		c.TelegramParser.PeersCacheFile = defaultPeersCacheFile
	}
	if c.MastodonParser.StorageFile == "" {
		c.MastodonParser.StorageFile = defaultAccountsFile
	}
}

// validate проверяет согласованность дерева: допустимые перечисления, разборность
// дат и разрешимость ссылок на профили фильтров. Любая ошибка фатальна.
func (c *Config) validate() error {
	switch c.App.InstanceType {
	case InstanceMastodon, InstancePleroma, InstanceFirefish:
	default:
		return fmt.Errorf("app.instance_type %q is not one of mastodon|pleroma|firefish", c.App.InstanceType)
	}

	switch c.App.StatusParams.Visibility {
	case "direct", "private", "unlisted", "public":
	default:
		return fmt.Errorf("app.status_params.visibility %q is not one of direct|private|unlisted|public",
			c.App.StatusParams.Visibility)
	}

	switch c.App.StatusParams.ContentType {
	case "text/plain", "text/markdown", "text/html", "text/bbcode":
	default:
		return fmt.Errorf("app.status_params.content_type %q is not supported", c.App.StatusParams.ContentType)
	}

	if _, err := c.TelegramParser.StartDate(); err != nil {
		return err
	}

	for _, site := range c.FeedParser.Sites {
		if site.URL == "" {
			return fmt.Errorf("feed_parser site %q has no url", site.Name)
		}
		if err := c.checkProfile(site.KeywordsFilterProfile); err != nil {
			return fmt.Errorf("feed_parser site %q: %w", site.Name, err)
		}
	}
	for _, chat := range c.TelegramParser.Conversations() {
		if chat.ID == 0 {
			return fmt.Errorf("telegram_parser conversation %q has no id", chat.Name)
		}
		if err := c.checkProfile(chat.KeywordsFilterProfile); err != nil {
			return fmt.Errorf("telegram_parser conversation %q: %w", chat.Name, err)
		}
	}
	for _, account := range c.MastodonParser.Accounts {
		if account.User == "" {
			return fmt.Errorf("mastodon_parser account entry has no user")
		}
		if err := c.checkProfile(account.KeywordsFilterProfile); err != nil {
			return fmt.Errorf("mastodon_parser account %q: %w", account.User, err)
		}
	}

	return nil
}

// checkProfile убеждается, что ссылка на профиль фильтра разрешима.
func (c *Config) checkProfile(profile string) error {
	if profile == "" {
		return nil
	}
	if _, ok := c.KeywordsFilter.Profiles[profile]; !ok {
		return fmt.Errorf("keywords filter profile %q is not defined", profile)
	}
	return nil
}

// Package post определяет QueuePost — универсальную денежную единицу конвейера:
// нормализованный, готовый к публикации пост. Тип разделён на две части:
// сериализуемую запись (id, group, summary, text, action, language, media,
// published_at в Unix-секундах) и обогащение в памяти (RawContent,
// RawCombinedContent), которое никогда не попадает на диск.
package post

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxMediaPerPost — максимум вложений на один статус Mastodon-совместимого API.
// Парсеры обязаны резать логический пост на группу, если вложений больше.
const MaxMediaPerPost = 4

// QueuePost — нормализованный пост, проходящий через очередь публикаций.
type QueuePost struct {
	// ID — стабильный идентификатор апстрима: URL для фидов, номер сообщения
	// для Telegram, id статуса для Mastodon. Используется для дедупликации
	// и учёта уже обработанного.
	ID string
	// Group — необязательный ключ группы (хэш содержимого). Посты одной группы
	// публикуются подряд как тред.
	Group string
	// Action — что делать с постом: публиковать новый статус или продвигать чужой.
	Action Action
	// Summary — необязательный короткий заголовок.
	Summary string
	// Text — итоговый текст, который уходит в сеть.
	Text string
	// Language — тег IETF, по мере возможности.
	Language string
	// Media — упорядоченные вложения, не более MaxMediaPerPost.
	Media []Media
	// PublishedAt — время происхождения у апстрима; задаёт порядок и отсечку по возрасту.
	PublishedAt time.Time

	// RawContent — полезная нагрузка парсера до форматирования. Живёт только в памяти.
	RawContent any `yaml:"-"`
	// RawCombinedContent — склеенный исходный текст для фильтрации. Живёт только в памяти.
	RawCombinedContent string `yaml:"-"`
}

// Media — одно вложение поста. Должно быть задано хотя бы одно из URL/Path:
// URL откладывает скачивание до публикации, Path указывает на локальный файл.
type Media struct {
	URL      string
	AltText  string
	Path     string
	MimeType string
}

// record — дисковое представление поста. Сырые поля сюда не попадают.
type record struct {
	ID          string        `yaml:"id"`
	Group       string        `yaml:"group,omitempty"`
	Summary     string        `yaml:"summary,omitempty"`
	Text        string        `yaml:"text,omitempty"`
	Action      string        `yaml:"action"`
	Language    string        `yaml:"language,omitempty"`
	Media       []mediaRecord `yaml:"media,omitempty"`
	PublishedAt int64         `yaml:"published_at"`
}

type mediaRecord struct {
	URL      string `yaml:"url,omitempty"`
	AltText  string `yaml:"alt_text,omitempty"`
	Path     string `yaml:"path,omitempty"`
	MimeType string `yaml:"mime_type,omitempty"`
}

// MarshalYAML сериализует пост в дисковую запись: действие строкой,
// published_at — Unix-секундами, сырые поля отбрасываются.
func (p QueuePost) MarshalYAML() (any, error) {
	rec := record{
		ID:          p.ID,
		Group:       p.Group,
		Summary:     p.Summary,
		Text:        p.Text,
		Action:      p.Action.String(),
		Language:    p.Language,
		PublishedAt: p.PublishedAt.Unix(),
	}
	for _, m := range p.Media {
		rec.Media = append(rec.Media, mediaRecord(m))
	}
	return rec, nil
}

// UnmarshalYAML восстанавливает пост из дисковой записи. Неизвестное действие —
// ошибка разбора: строковое представление отвергается на этой границе.
// Сырые поля остаются пустыми: форматирование происходит до постановки в очередь.
func (p *QueuePost) UnmarshalYAML(node *yaml.Node) error {
	var rec record
	if err := node.Decode(&rec); err != nil {
		return err
	}

	action, err := parseAction(rec.Action, rec.ID)
	if err != nil {
		return fmt.Errorf("post %s: %w", rec.ID, err)
	}

	p.ID = rec.ID
	p.Group = rec.Group
	p.Summary = rec.Summary
	p.Text = rec.Text
	p.Action = action
	p.Language = rec.Language
	p.PublishedAt = time.Unix(rec.PublishedAt, 0).UTC()
	p.Media = nil
	for _, m := range rec.Media {
		p.Media = append(p.Media, Media(m))
	}
	p.RawContent = nil
	p.RawCombinedContent = ""

	return nil
}

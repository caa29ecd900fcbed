package telegram

// Движок восстановления логических постов.
//
// Группировка: проход по сообщениям в хронологическом порядке; новая группа
// открывается, если пауза после предыдущего сообщения больше минуты ИЛИ у
// сообщения есть непустой текст. Подпись к серии картинок приходит первым
// сообщением, догоняющие картинки без текста — продолжение того же поста.
//
// Нарезка: группа разворачивается в n сегментов треда, где
// n = max(ceil(|text| / L_eff), ceil(|media| / 4), 1), а L_eff — лимит длины
// минус бюджет маркера треда. Все сегменты делят group-хэш и время самого
// раннего сообщения группы. Хэши заякорены номером самого раннего сообщения:
// голый хэш текста не годится, все группы без текста делили бы sha1("").

import (
	"crypto/sha1" // #nosec G505 -- не криптография: контентные идентификаторы сегментов
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fedibot/internal/domain/post"
)

const (
	// groupGap — максимальная пауза между сообщениями одного логического поста.
	groupGap = time.Minute
	// threadMarkerTemplate — шаблон маркера треда с двузначными заглушками;
	// его длина в рунах и есть бюджет, вычитаемый из лимита длины.
	threadMarkerTemplate = " \U0001F9F5 NN/MM"
)

// PostProcess сворачивает сырые сообщения в логические посты и нарезает их
// на сегменты треда. Для большинства сообщений результат — один пост.
func (p *Parser) PostProcess(_ string, posts []post.QueuePost) []post.QueuePost {
	out := make([]post.QueuePost, 0, len(posts))
	for _, group := range groupMessages(posts) {
		out = append(out, p.explodeGroup(group)...)
	}
	return out
}

// groupMessages разбивает хронологический список постов на группы-кандидаты.
func groupMessages(posts []post.QueuePost) [][]post.QueuePost {
	var groups [][]post.QueuePost
	var current []post.QueuePost
	var last post.QueuePost

	for i, qp := range posts {
		if i > 0 && (qp.PublishedAt.Sub(last.PublishedAt) > groupGap || strings.TrimSpace(qp.RawCombinedContent) != "") {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, qp)
		last = qp
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// explodeGroup накапливает тексты и медиа группы и эмитит сегменты треда.
func (p *Parser) explodeGroup(group []post.QueuePost) []post.QueuePost {
	var texts []string
	var mediaStack []Message
	var date time.Time
	var language string

	for _, qp := range group {
		if text := strings.TrimSpace(qp.RawCombinedContent); text != "" {
			texts = append(texts, text)
		}
		if msg, ok := qp.RawContent.(Message); ok && msg.File != nil {
			mediaStack = append(mediaStack, msg)
		}
		if date.IsZero() || qp.PublishedAt.Before(date) {
			date = qp.PublishedAt
		}
		if language == "" {
			language = qp.Language
		}
	}

	fullText := strings.Join(texts, "\n\n")
	effective := p.maxLength - utf8.RuneCountInString(threadMarkerTemplate)
	if effective < 1 {
		// Лимит не покрывает даже маркер треда: вырождаемся в посимвольную нарезку.
		effective = 1
	}

	nText := 0
	runes := []rune(fullText)
	if len(runes) > 0 {
		nText = (len(runes) + effective - 1) / effective
	}
	nMedia := (len(mediaStack) + post.MaxMediaPerPost - 1) / post.MaxMediaPerPost
	n := max(nText, nMedia, 1)

	// anchor — стабильная идентичность группы у апстрима.
	anchor := group[0].ID
	groupHash := contentHash(anchor + "\n" + fullText)

	out := make([]post.QueuePost, 0, n)
	for i := 0; i < n; i++ {
		take := min(effective, len(runes))
		text := string(runes[:take])
		runes = runes[take:]

		if n > 1 {
			text = strings.TrimSpace(text + fmt.Sprintf(" \U0001F9F5 %d/%d", i+1, n))
		}

		pending := mediaStack[:min(post.MaxMediaPerPost, len(mediaStack))]
		mediaStack = mediaStack[len(pending):]

		out = append(out, post.QueuePost{
			ID:          contentHash(fmt.Sprintf("%s\n%d\n%s", anchor, i, text)),
			Group:       groupHash,
			Action:      post.NewAction(),
			Text:        text,
			Language:    language,
			PublishedAt: date,
			RawContent:  append([]Message(nil), pending...),
		})
	}
	return out
}

// contentHash — шестнадцатеричный SHA-1 текста; идентификаторы сегментов и групп.
func contentHash(text string) string {
	sum := sha1.Sum([]byte(text)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

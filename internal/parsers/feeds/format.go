package feeds

// Форматирование поста фида: исправление «кричащих» заголовков, срез HTML,
// схлопывание пробелов, усечение с многоточием и сборка итогового текста
// с URL в конце. Бюджет длины тела — max_length минус длина URL.

import (
	"strings"
	"unicode"
	"unicode/utf8"

	striptags "github.com/grokify/html-strip-tags-go"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fedibot/internal/domain/post"
)

// ellipsis дописывается к усечённому тексту.
const ellipsis = "..."

// FormatPost собирает итоговые text/summary поста из сырой записи фида.
// Порядок шагов фиксирован: заголовок, тело, усечения, префикс имени, URL.
func (p *Parser) FormatPost(source string, qp *post.QueuePost) {
	site, ok := p.sites[source]
	if !ok {
		return
	}
	raw, ok := qp.RawContent.(*Entry)
	if !ok {
		return
	}

	title := fixShoutingTitle(raw.Title, qp.Language)
	body := collapseWhitespace(striptags.StripTags(raw.Body))
	body = truncateRunes(body, site.MaxSummaryLength)

	if site.ShowName && site.Name != "" {
		title = site.Name + ": " + title
	}

	// Бюджет тела: итоговый статус обязан влезть в max_length вместе с URL.
	budget := p.maxLength - utf8.RuneCountInString(raw.URL)

	if p.mergeContent {
		// Заголовок складывается в тело, summary остаётся пустым.
		merged := title
		if body != "" {
			merged += "\n\n" + body
		}
		qp.Summary = ""
		qp.Text = truncateRunes(merged, budget-len("\n\n")) + "\n\n" + raw.URL
		return
	}

	qp.Summary = title
	if body == "" {
		body = title
	}
	qp.Text = truncateRunes(body, budget-len("\n\n")) + "\n\n" + raw.URL
}

// fixShoutingTitle переводит заголовок, набранный сплошными прописными,
// в Title Case. Заголовки со строчными буквами не трогаются.
func fixShoutingTitle(title, lang string) string {
	hasLetter := false
	for _, r := range title {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return title
			}
		}
	}
	if !hasLetter {
		return title
	}

	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}
	return cases.Title(tag).String(strings.ToLower(title))
}

// collapseWhitespace схлопывает любые последовательности пробельных символов
// в один пробел и срезает крайние.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes усекает строку до max рун, заменяя хвост многоточием;
// многоточие входит в max. Усечение считается по рунам: резать UTF-8 по
// байтам нельзя.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max - utf8.RuneCountInString(ellipsis)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRight(string(runes[:cut]), " ") + ellipsis
}

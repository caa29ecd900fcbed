package feeds

// Извлечение картинок из HTML-тела записи. Скачивания здесь нет: фиды отдают
// абсолютные URL, и тянуть байты выгоднее в публикаторе, когда пост реально
// уходит в сеть. Поэтому медиа фида — это пары (url, alt_text).

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"fedibot/internal/domain/post"
)

// ParseMedia находит <img src alt> в склеенном сыром тексте поста и заполняет
// qp.Media (не более post.MaxMediaPerPost). Ошибок не возвращает: битый HTML
// токенизатор переживает молча.
func (p *Parser) ParseMedia(_ context.Context, qp *post.QueuePost) error {
	if qp.RawCombinedContent == "" {
		return nil
	}

	tokenizer := html.NewTokenizer(strings.NewReader(qp.RawCombinedContent))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return nil
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		if token.Data != "img" {
			continue
		}

		var src, alt string
		for _, attr := range token.Attr {
			switch attr.Key {
			case "src":
				src = attr.Val
			case "alt":
				alt = attr.Val
			}
		}
		if src == "" {
			continue
		}

		qp.Media = append(qp.Media, post.Media{URL: src, AltText: alt})
		if len(qp.Media) >= post.MaxMediaPerPost {
			return nil
		}
	}
}

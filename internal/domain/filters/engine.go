// Package filters реализует фильтр ключевых слов по именованным профилям.
// Профиль — список ключевых слов; текст допускается, если хотя бы одно слово
// встречается как подстрока очищенного текста. Очистка: срез HTML-тегов,
// нижний регистр, сведение акцентированных букв к базовым, удаление "-" и ".".
package filters

import (
	"fmt"
	"strings"

	striptags "github.com/grokify/html-strip-tags-go"

	"fedibot/internal/infra/config"
)

// accentFold сводит акцентированные буквы романских языков к базовым
// и выбрасывает дефисы с точками. Набор намеренно узкий: каталанский,
// испанский и соседи — то, с чем реально приходят ключевые слова.
var accentFold = strings.NewReplacer(
	"à", "a", "á", "a",
	"è", "e", "é", "e",
	"ì", "i", "í", "i",
	"ò", "o", "ó", "o",
	"ù", "u", "ú", "u",
	"ç", "c", "ñ", "n",
	"-", "", ".", "",
)

// Engine отвечает на вопрос «допускает ли профиль этот текст».
// Профили загружаются один раз из конфигурации и далее неизменяемы.
type Engine struct {
	profiles map[string][]string
}

// NewEngine строит движок из раздела keywords_filter конфигурации.
// Ключевые слова нормализуются той же очисткой, что и проверяемый текст,
// чтобы сравнение было симметричным.
func NewEngine(cfg config.KeywordsFilter) *Engine {
	profiles := make(map[string][]string, len(cfg.Profiles))
	for name, profile := range cfg.Profiles {
		keywords := make([]string, 0, len(profile.Keywords))
		for _, kw := range profile.Keywords {
			kw = cleanText(kw)
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		profiles[name] = keywords
	}
	return &Engine{profiles: profiles}
}

// ProfileAllows сообщает, допускает ли профиль текст: true, если хотя бы одно
// ключевое слово профиля встречается в очищенном тексте. Ссылка на
// несуществующий профиль — ошибка конфигурации.
func (e *Engine) ProfileAllows(profile, text string) (bool, error) {
	keywords, ok := e.profiles[profile]
	if !ok {
		return false, fmt.Errorf("keywords filter profile %q is not defined", profile)
	}

	cleaned := cleanText(text)
	for _, kw := range keywords {
		if strings.Contains(cleaned, kw) {
			return true, nil
		}
	}
	return false, nil
}

// cleanText приводит текст к форме для сравнения: без HTML, в нижнем регистре,
// без акцентов, дефисов и точек.
func cleanText(text string) string {
	text = striptags.StripTags(text)
	text = strings.ToLower(text)
	return accentFold.Replace(text)
}

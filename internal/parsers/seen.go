package parsers

// Seen-состояние источника: множество идентификаторов апстрима, которые бот
// уже обработал. Множество только растёт; порядок добавления сохраняется,
// чтобы дисковое представление было стабильным между запусками.
// Персистентность остаётся за парсером: каждый класс источников хранит
// множество в своём документе состояния и в своём формате (строки для фидов,
// числа для Telegram, last_seen для Mastodon).

// SeenSet — растущее множество строковых идентификаторов с сохранением порядка.
type SeenSet struct {
	ids   map[string]struct{}
	order []string
}

// NewSeenSet строит множество из сохранённого списка идентификаторов.
// Дубликаты во входном списке схлопываются, первый порядок выигрывает.
func NewSeenSet(stored []string) *SeenSet {
	s := &SeenSet{ids: make(map[string]struct{}, len(stored))}
	for _, id := range stored {
		s.Add(id)
	}
	return s
}

// Has сообщает, есть ли идентификатор в множестве.
func (s *SeenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add добавляет идентификатор. Повторное добавление — no-op.
// Возвращает true, если множество выросло.
func (s *SeenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Values возвращает идентификаторы в порядке добавления.
func (s *SeenSet) Values() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len возвращает размер множества.
func (s *SeenSet) Len() int { return len(s.order) }

// Package queue реализует долговечную очередь публикаций: упорядоченную,
// дедуплицированную последовательность постов с файлом-состоянием на диске.
// Файл — единственный источник истины между запусками; в пределах запуска
// очередью владеет ровно один компонент, поэтому синхронизация не требуется.
package queue

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"fedibot/internal/domain/post"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/storage"
)

// Queue — очередь постов с персистентным файлом.
// Мутации в памяти попадают на диск только при Save: это позволяет оркестратору
// фиксировать состояние в границах «после парсера» и «после публикации».
type Queue struct {
	path  string
	posts []post.QueuePost
}

// fileLayout — дисковая форма очереди: один документ {queue: [посты]}.
type fileLayout struct {
	Queue []post.QueuePost `yaml:"queue"`
}

// New создаёт очередь, привязанную к файлу path, не читая его.
// Для восстановления состояния вызовите Load.
func New(path string) *Queue {
	return &Queue{path: path}
}

// Path возвращает путь файла очереди.
func (q *Queue) Path() string { return q.path }

// Load перечитывает файл очереди и возвращает новую длину.
// Отсутствующий файл даёт пустую очередь; нечитаемый — ошибку ErrMalformed.
func (q *Queue) Load() (int, error) {
	data, err := storage.ReadFileIfExists(q.path)
	if err != nil {
		return 0, err
	}

	var layout fileLayout
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &layout); err != nil {
			return 0, fmt.Errorf("%w: queue %s: %v", storage.ErrMalformed, q.path, err)
		}
	}

	q.posts = layout.Queue
	logger.Debugf("Queue: loaded %d post(s) from %s", len(q.posts), q.path)
	return len(q.posts), nil
}

// Save сериализует все посты и атомарно заменяет файл.
// Сырые поля постов на диск не попадают (их отбрасывает сериализация поста).
func (q *Queue) Save() error {
	data, err := yaml.Marshal(fileLayout{Queue: q.posts})
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	if err := storage.AtomicWriteFile(q.path, data); err != nil {
		return fmt.Errorf("save queue %s: %w", q.path, err)
	}
	logger.Debugf("Queue: saved %d post(s) to %s", len(q.posts), q.path)
	return nil
}

// Append добавляет пост в конец очереди.
func (q *Queue) Append(p post.QueuePost) {
	q.posts = append(q.posts, p)
}

// PopFront снимает первый пост очереди.
func (q *Queue) PopFront() (post.QueuePost, bool) {
	if len(q.posts) == 0 {
		return post.QueuePost{}, false
	}
	first := q.posts[0]
	q.posts = q.posts[1:]
	return first, true
}

// First возвращает первый пост, не снимая его.
func (q *Queue) First() (post.QueuePost, bool) {
	if len(q.posts) == 0 {
		return post.QueuePost{}, false
	}
	return q.posts[0], true
}

// Last возвращает последний пост, не снимая его.
func (q *Queue) Last() (post.QueuePost, bool) {
	if len(q.posts) == 0 {
		return post.QueuePost{}, false
	}
	return q.posts[len(q.posts)-1], true
}

// Length возвращает текущее количество постов.
func (q *Queue) Length() int { return len(q.posts) }

// IsEmpty сообщает, пуста ли очередь.
func (q *Queue) IsEmpty() bool { return len(q.posts) == 0 }

// Sort устойчиво упорядочивает посты по времени публикации по возрастанию.
// Устойчивость существенна: посты одной группы делят published_at, и их
// взаимный порядок (порядок треда) обязан сохраниться.
func (q *Queue) Sort() {
	sort.SliceStable(q.posts, func(i, j int) bool {
		return q.posts[i].PublishedAt.Before(q.posts[j].PublishedAt)
	})
}

// Deduplicate убирает посты с повторяющейся парой (id, вид действия),
// оставляя первое вхождение в текущем порядке. Возвращает число удалённых.
func (q *Queue) Deduplicate() int {
	type key struct {
		id   string
		kind post.ActionKind
	}

	seen := make(map[key]struct{}, len(q.posts))
	kept := q.posts[:0]
	removed := 0
	for _, p := range q.posts {
		k := key{id: p.ID, kind: p.Action.Kind}
		if _, ok := seen[k]; ok {
			removed++
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, p)
	}
	q.posts = kept

	if removed > 0 {
		logger.Debugf("Queue: removed %d duplicate post(s)", removed)
	}
	return removed
}

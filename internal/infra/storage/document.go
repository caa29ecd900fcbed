// Document — YAML-документ "ключ → произвольное значение" с доступом по точечным путям.
// На нём построены файлы состояния бота: очередь публикаций и seen-состояние парсеров.
// Ключи верхнего уровня могут быть как структурными ("telegram_parser"), так и
// хэшированными от недоверенных идентификаторов (URL фида, имя аккаунта) — хэш
// даёт фиксированную ширину и исключает коллизии со структурными ключами.

package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformed сигнализирует о повреждённом документе состояния на диске.
// Для оркестратора это фатальная ошибка конфигурации: продолжать работу поверх
// нечитаемого состояния нельзя.
var ErrMalformed = errors.New("malformed state document")

// Document хранит разобранное содержимое одного YAML-файла состояния.
// Все мутации происходят в памяти; на диск документ попадает только при Write.
type Document struct {
	path string
	root map[string]any
}

// LoadDocument читает YAML-документ по указанному пути.
// Отсутствующий файл трактуется как пустой документ. Нечитаемый YAML
// оборачивается в ErrMalformed.
func LoadDocument(path string) (*Document, error) {
	doc := &Document{path: path, root: map[string]any{}}

	data, err := ReadFileIfExists(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc.root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	if doc.root == nil {
		doc.root = map[string]any{}
	}
	return doc, nil
}

// Path возвращает путь файла, за которым закреплён документ.
func (d *Document) Path() string { return d.path }

// Get возвращает значение по точечному пути ("a.b.c").
// Любой отсутствующий промежуточный узел даёт nil, а не ошибку.
func (d *Document) Get(path string) any {
	var cur any = d.root
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// Set записывает значение по точечному пути, создавая промежуточные узлы.
// Если промежуточный узел существует, но не является словарём, он заменяется.
func (d *Document) Set(path string, value any) {
	parts := strings.Split(path, ".")
	node := d.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}

// GetHashed читает значение по хэшированному ключу верхнего уровня.
func (d *Document) GetHashed(key string) any {
	return d.Get(HashKey(key))
}

// SetHashed записывает значение по хэшированному ключу верхнего уровня.
func (d *Document) SetHashed(key string, value any) {
	d.Set(HashKey(key), value)
}

// Write сериализует документ и атомарно заменяет файл на диске.
func (d *Document) Write() error {
	data, err := yaml.Marshal(d.root)
	if err != nil {
		return fmt.Errorf("marshal state document %s: %w", d.path, err)
	}
	if err := AtomicWriteFile(d.path, data); err != nil {
		return fmt.Errorf("write state document: %w", err)
	}
	return nil
}

// HashKey приводит произвольный идентификатор к фиксированной ширине (hex SHA-256).
// Это не криптографическая защита, а способ безопасно использовать URL и имена
// аккаунтов как ключи документа.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Strings приводит значение документа к списку строк.
// YAML отдаёт списки как []any (нестроковые элементы пропускаются);
// значения, записанные в памяти и ещё не прошедшие сериализацию, могут быть []string.
func Strings(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Ints приводит значение документа к списку целых.
// Поддерживает int и int64 — ровно то, что возвращает yaml.v3 для целых чисел.
func Ints(v any) []int {
	switch items := v.(type) {
	case []int:
		return items
	case []any:
		out := make([]int, 0, len(items))
		for _, item := range items {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			}
		}
		return out
	}
	return nil
}

// String приводит значение документа к строке; nil и нестроки дают "".
func String(v any) string {
	s, _ := v.(string)
	return s
}

package telegram

// Шлюз к Telegram. Парсер работает с плоскими структурами Message и не знает
// про MTProto: реальную выгрузку истории и скачивание файлов делает адаптер
// (internal/adapters/telegram), а тесты подставляют фейк.

import (
	"context"
	"time"
)

// FileInfo описывает вложение сообщения в объёме, достаточном парсеру:
// идентификатор для имени файла, имя из атрибутов и mime-тип.
type FileInfo struct {
	MediaID  int64
	Name     string
	MimeType string
}

// Message — одно сообщение разговора в нормализованном виде.
// Ref — непрозрачная ссылка адаптера на исходный объект, нужна для скачивания.
type Message struct {
	ID   int
	Text string
	Date time.Time
	File *FileInfo
	Ref  any
}

// Gateway — операции Telegram, которые нужны парсеру.
type Gateway interface {
	// Messages возвращает сообщения разговора от старых к новым.
	// При minID > 0 отдаются только сообщения с ID строго больше minID;
	// при ненулевом startDate — только не старше этой даты.
	Messages(ctx context.Context, conversationID int64, minID int, startDate time.Time) ([]Message, error)

	// DownloadFile скачивает вложение сообщения в каталог dir и возвращает
	// путь к файлу. Имя файла: имя из атрибутов либо идентификатор медиа,
	// расширение — по mime-типу.
	DownloadFile(ctx context.Context, msg Message, dir string) (string, error)
}

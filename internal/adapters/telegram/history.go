package telegram

// Выгрузка истории разговора и скачивание вложений. История читается от новых
// сообщений к старым страницами по pageLimit, границы задают min_id (сервер
// отдаёт только более новые сообщения) и дата старта; результат разворачивается
// в хронологический порядок, как ожидает парсер.

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	tgparser "fedibot/internal/parsers/telegram"
)

const historyPageLimit = 100

var _ tgparser.Gateway = (*Client)(nil)

// Messages возвращает сообщения разговора от старых к новым в границах
// minID/startDate.
func (c *Client) Messages(ctx context.Context, conversationID int64, minID int, startDate time.Time) ([]tgparser.Message, error) {
	peer, err := c.peers.inputPeer(ctx, c.api, conversationID)
	if err != nil {
		return nil, err
	}

	collected := make([]tgparser.Message, 0)
	offsetID := 0

	for {
		resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			MinID:    minID,
			Limit:    historyPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("MessagesGetHistory: %w", err)
		}

		batch, err := normalizeHistoryResponse(resp)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		prevOffsetID := offsetID
		reachedStart := false
		for _, raw := range batch {
			msg, ok := raw.(*tg.Message)
			if !ok {
				// Служебные и пустые сообщения истории не интересуют.
				continue
			}
			if offsetID == 0 || msg.ID < offsetID {
				offsetID = msg.ID
			}
			date := time.Unix(int64(msg.Date), 0).UTC()
			if !startDate.IsZero() && date.Before(startDate) {
				reachedStart = true
				continue
			}
			collected = append(collected, convertMessage(msg, date))
		}

		if reachedStart || len(batch) < historyPageLimit {
			break
		}
		if offsetID == prevOffsetID {
			// Страница не сдвинула курсор, дальше двигаться некуда.
			break
		}
	}

	// История приходит от новых к старым; парсер ждёт хронологию.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// DownloadFile скачивает вложение сообщения в dir и возвращает путь к файлу.
func (c *Client) DownloadFile(ctx context.Context, msg tgparser.Message, dir string) (string, error) {
	if msg.File == nil {
		return "", errors.New("message carries no file")
	}
	location, ok := msg.Ref.(tg.InputFileLocationClass)
	if !ok {
		return "", errors.New("message carries no download location")
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("ensure media dir %q: %w", dir, err)
	}

	name := msg.File.Name
	if name == "" {
		name = strconv.FormatInt(msg.File.MediaID, 10) + extensionForMime(msg.File.MimeType)
	}
	target := filepath.Join(dir, name)

	if _, err := downloader.NewDownloader().Download(c.api, location).ToPath(ctx, target); err != nil {
		return "", fmt.Errorf("download media %d: %w", msg.File.MediaID, err)
	}
	return target, nil
}

func normalizeHistoryResponse(resp tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch data := resp.(type) {
	case *tg.MessagesMessages:
		return data.Messages, nil
	case *tg.MessagesMessagesSlice:
		return data.Messages, nil
	case *tg.MessagesChannelMessages:
		return data.Messages, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected history response: %T", resp)
	}
}

// convertMessage переводит MTProto-сообщение в плоскую структуру парсера.
func convertMessage(msg *tg.Message, date time.Time) tgparser.Message {
	out := tgparser.Message{
		ID:   msg.ID,
		Text: msg.Message,
		Date: date,
	}
	if media, ok := msg.GetMedia(); ok {
		out.File, out.Ref = fileFromMedia(media)
	}
	return out
}

// fileFromMedia извлекает описание вложения и локацию для скачивания.
// Поддержаны фото и документы; прочие виды медиа игнорируются.
func fileFromMedia(media tg.MessageMediaClass) (*tgparser.FileInfo, tg.InputFileLocationClass) {
	switch item := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := item.Photo.(*tg.Photo)
		if !ok {
			return nil, nil
		}
		sizeType := largestPhotoSize(photo.Sizes)
		if sizeType == "" {
			return nil, nil
		}
		return &tgparser.FileInfo{
				MediaID:  photo.ID,
				MimeType: "image/jpeg",
			}, &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     sizeType,
			}
	case *tg.MessageMediaDocument:
		doc, ok := item.Document.(*tg.Document)
		if !ok {
			return nil, nil
		}
		info := &tgparser.FileInfo{
			MediaID:  doc.ID,
			MimeType: doc.MimeType,
		}
		for _, attr := range doc.Attributes {
			if named, ok := attr.(*tg.DocumentAttributeFilename); ok {
				info.Name = named.FileName
				break
			}
		}
		return info, &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
	default:
		return nil, nil
	}
}

// largestPhotoSize выбирает тип самого крупного варианта фото.
func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best := ""
	bestArea := 0
	for _, size := range sizes {
		var area int
		var kind string
		switch s := size.(type) {
		case *tg.PhotoSize:
			area, kind = s.W*s.H, s.Type
		case *tg.PhotoSizeProgressive:
			area, kind = s.W*s.H, s.Type
		default:
			continue
		}
		if area > bestArea {
			bestArea, best = area, kind
		}
	}
	return best
}

// extensionForMime подбирает расширение файла по mime-типу.
func extensionForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

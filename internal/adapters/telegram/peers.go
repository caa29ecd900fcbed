package telegram

// Кэш пиров поверх bbolt и gotd peers.Manager. Разговоры из конфигурации
// адресуются голым идентификатором, а MTProto требует access_hash — менеджер
// пиров хранит их между запусками, чтобы не выгружать список диалогов на
// каждый прогон. Прогрев выполняется один раз при пустом кэше или при
// незнакомом идентификаторе.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"

	"fedibot/internal/infra/logger"
)

const (
	peersBucketName             = "peers"
	dbOpenTimeout               = time.Second
	dbFileMode      os.FileMode = 0o600

	dialogFetchPageLimit = 100
)

var peersBucketBytes = []byte(peersBucketName)

var errDialogsNotModified = errors.New("dialogs not modified")

// peersService инкапсулирует менеджер пиров и его персистентный кэш.
type peersService struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	mgr   *peers.Manager
}

// newPeersService открывает bbolt-кэш и собирает peers.Manager поверх api.
func newPeersService(api *tg.Client, dbPath string) (*peersService, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, errors.New("peers cache path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure peers cache dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open peers cache: %w", err)
	}

	return &peersService{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucketBytes),
		mgr:   (peers.Options{}).Build(api),
	}, nil
}

// Close закрывает файл кэша.
func (s *peersService) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadFromStorage прогружает сохранённые пиры из bbolt в оперативный менеджер.
func (s *peersService) LoadFromStorage(ctx context.Context) error {
	exists := false
	if err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(peersBucketBytes) != nil
		return nil
	}); err != nil {
		return fmt.Errorf("inspect peers cache: %w", err)
	}
	if !exists {
		return nil
	}

	iter, err := s.store.Iterate(ctx)
	if err != nil {
		return fmt.Errorf("iterate stored peers: %w", err)
	}
	defer func() { _ = iter.Close() }()

	users := make([]tg.UserClass, 0)
	chats := make([]tg.ChatClass, 0)
	for iter.Next(ctx) {
		value := iter.Value()
		switch value.Key.Kind {
		case dialogs.User:
			if value.User != nil {
				users = append(users, value.User)
			}
		case dialogs.Chat:
			if value.Chat != nil {
				chats = append(chats, value.Chat)
			}
		case dialogs.Channel:
			if value.Channel != nil {
				chats = append(chats, value.Channel)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("iterate stored peers: %w", err)
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	return s.mgr.Apply(ctx, users, chats)
}

// inputPeer возвращает tg.InputPeerClass для идентификатора разговора.
// Незнакомый идентификатор вызывает прогрев из списка диалогов и один повтор.
func (s *peersService) inputPeer(ctx context.Context, api *tg.Client, id int64) (tg.InputPeerClass, error) {
	if peer, err := s.resolve(ctx, id); err == nil {
		return peer, nil
	}

	logger.Debugf("telegram: conversation %d not cached, refreshing dialogs", id)
	if err := s.warmup(ctx, api); err != nil {
		return nil, err
	}
	peer, err := s.resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation %d: %w", id, err)
	}
	return peer, nil
}

// resolve пробует типы сущностей в порядке убывания вероятности для бота:
// каналы, чаты, пользователи.
func (s *peersService) resolve(ctx context.Context, id int64) (tg.InputPeerClass, error) {
	if channel, err := s.mgr.ResolveChannelID(ctx, id); err == nil {
		return channel.InputPeer(), nil
	}
	if chat, err := s.mgr.ResolveChatID(ctx, id); err == nil {
		return chat.InputPeer(), nil
	}
	user, err := s.mgr.ResolveUserID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.InputPeer(), nil
}

// warmup выгружает список диалогов, применяет сущности к менеджеру и
// сохраняет их в персистентный кэш.
func (s *peersService) warmup(ctx context.Context, api *tg.Client) error {
	fetched, err := fetchDialogs(ctx, api)
	if err != nil {
		return fmt.Errorf("fetch dialogs: %w", err)
	}
	if err := s.mgr.Apply(ctx, fetched.Users, fetched.Chats); err != nil {
		return fmt.Errorf("apply dialog entities: %w", err)
	}
	s.persist(ctx, fetched)
	return nil
}

// persist складывает сущности в bbolt; сбой отдельной записи не фатален.
func (s *peersService) persist(ctx context.Context, fetched *tg.MessagesDialogs) {
	for _, entity := range fetched.Users {
		user, ok := entity.(*tg.User)
		if !ok {
			continue
		}
		var value contribstorage.Peer
		if !value.FromUser(user) {
			continue
		}
		if err := s.store.Add(ctx, value); err != nil {
			logger.Warnf("telegram: cache user %d: %v", user.ID, err)
		}
	}
	for _, entity := range fetched.Chats {
		var value contribstorage.Peer
		var id int64
		var ok bool
		switch chat := entity.(type) {
		case *tg.Chat:
			id, ok = chat.ID, value.FromChat(chat)
		case *tg.Channel:
			id, ok = chat.ID, value.FromChat(chat)
		default:
			continue
		}
		if !ok {
			continue
		}
		if err := s.store.Add(ctx, value); err != nil {
			logger.Warnf("telegram: cache chat %d: %v", id, err)
		}
	}
}

// fetchDialogs последовательно выгружает весь список диалогов пользователя.
// Пагинация по (offset_date, offset_id, offset_peer) с access_hash, собранными
// из предыдущих страниц. Темп запросов обеспечивает ratelimit-мидлварь клиента.
func fetchDialogs(ctx context.Context, api *tg.Client) (*tg.MessagesDialogs, error) {
	result := &tg.MessagesDialogs{}

	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogFetchPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("MessagesGetDialogs: %w", err)
		}

		batch, err := normalizeDialogsResponse(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return result, nil
			}
			return nil, err
		}
		if len(batch.Dialogs) == 0 {
			break
		}

		result.Dialogs = append(result.Dialogs, batch.Dialogs...)
		result.Messages = append(result.Messages, batch.Messages...)
		result.Chats = append(result.Chats, batch.Chats...)
		result.Users = append(result.Users, batch.Users...)

		updateHashesFromBatch(batch, userHashes, channelHashes)

		lastDialog := batch.Dialogs[len(batch.Dialogs)-1]
		prevOffsetDate := offsetDate
		prevOffsetID := offsetID

		switch dlg := lastDialog.(type) {
		case *tg.Dialog:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		default:
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if offsetDate == 0 {
			offsetDate = prevOffsetDate
		}
		if offsetID == 0 {
			offsetID = prevOffsetID
		}
		if offsetPeer == nil {
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if len(batch.Dialogs) < dialogFetchPageLimit {
			break
		}
	}

	return result, nil
}

func normalizeDialogsResponse(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, fmt.Errorf("unexpected dialogs response: %T", resp)
	}
}

func updateHashesFromBatch(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return 0
}

func dialogPeerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{
			UserID:     entity.UserID,
			AccessHash: userHashes[entity.UserID],
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{
			ChannelID:  entity.ChannelID,
			AccessHash: channelHashes[entity.ChannelID],
		}
	default:
		return &tg.InputPeerEmpty{}
	}
}

package telegram

// Адаптер MTProto-клиента gotd. Держит фоновое соединение с Telegram на время
// прогона: Connect поднимает клиент и блокируется до готовности, Close гасит
// соединение и дожидается завершения фоновой горутины. Парсер видит адаптер
// только через интерфейс шлюза.

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
)

// throttleRPS — темп исходящих MTProto-запросов. Бот выгружает историю
// пачками, поэтому жёсткий лимит с двойным burst'ом достаточен, чтобы не
// ловить FLOOD_WAIT на обычных объёмах.
const throttleRPS = 5

// Client — подключение к Telegram и доступ к истории разговоров.
type Client struct {
	cfg    config.TelegramParser
	client *telegram.Client
	api    *tg.Client
	waiter *floodwait.Waiter
	peers  *peersService

	cancel context.CancelFunc
	done   chan error
	ready  chan struct{}
}

// NewClient собирает MTProto-клиент по конфигурации парсера: файловая сессия,
// floodwait и ratelimit в мидлварях, bbolt-кэш пиров.
func NewClient(cfg *config.Config) (*Client, error) {
	tgCfg := cfg.TelegramParser
	if tgCfg.APIID == 0 || tgCfg.APIHash == "" {
		return nil, errors.New("telegram api credentials are not configured")
	}

	waiter := floodwait.NewWaiter()
	options := telegram.Options{
		SessionStorage: &FileStorage{Path: tgCfg.SessionFile},
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(throttleRPS), throttleRPS*2),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    "1.0.0",
		},
	}

	client := telegram.NewClient(tgCfg.APIID, tgCfg.APIHash, options)

	peersSvc, err := newPeersService(client.API(), tgCfg.PeersCacheFile)
	if err != nil {
		return nil, fmt.Errorf("init peers cache: %w", err)
	}

	return &Client{
		cfg:    tgCfg,
		client: client,
		api:    client.API(),
		waiter: waiter,
		peers:  peersSvc,
		ready:  make(chan struct{}),
	}, nil
}

// Connect запускает клиент в фоне и блокируется до успешной авторизации либо
// ошибки соединения. Завершение ctx гасит фоновую горутину.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan error, 1)

	go func() {
		c.done <- c.waiter.Run(runCtx, func(ctx context.Context) error {
			return c.client.Run(ctx, func(ctx context.Context) error {
				if err := c.loginSelf(ctx); err != nil {
					return err
				}
				if err := c.peers.LoadFromStorage(ctx); err != nil {
					logger.Warnf("telegram: load peers cache: %v", err)
				}
				close(c.ready)
				<-ctx.Done()
				return ctx.Err()
			})
		})
	}()

	select {
	case <-c.ready:
		return nil
	case err := <-c.done:
		cancel()
		if err == nil {
			err = errors.New("telegram client stopped before becoming ready")
		}
		return fmt.Errorf("connect to telegram: %w", err)
	}
}

// Close завершает фоновое соединение и закрывает кэш пиров.
func (c *Client) Close() error {
	var runErr error
	if c.cancel != nil {
		c.cancel()
		if err := <-c.done; err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}
	if err := c.peers.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// loginSelf проверяет авторизацию, при необходимости проводит интерактивный
// вход и логирует аккаунт, под которым работает бот.
func (c *Client) loginSelf(ctx context.Context) error {
	flow := auth.NewFlow(TerminalAuthenticator{PhoneNumber: c.cfg.Phone}, auth.SendCodeOptions{})
	if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	self, err := c.client.Self(ctx)
	if err != nil {
		return fmt.Errorf("fetch self: %w", err)
	}
	name := self.Username
	if name == "" {
		name = self.FirstName
	}
	logger.Infof("telegram: logged in as %s (id %d)", name, self.ID)
	return nil
}

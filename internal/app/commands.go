package app

// Сервисные команды CLI помимо основного прогона: публикация без приёма,
// тестовый статус, регистрация приложения, логин в Telegram и проверка
// janitor-эндпоинта.

import (
	"context"
	"fmt"
	"os"
	"time"

	"fedibot/internal/adapters/fediverse"
	tgadapter "fedibot/internal/adapters/telegram"
	"fedibot/internal/domain/publisher"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/pr"
	"fedibot/internal/janitor"
)

// PublishQueue выгружает накопленную очередь без приёма новых постов.
func (a *App) PublishQueue(ctx context.Context) error {
	q, err := a.loadQueue()
	if err != nil {
		return err
	}
	if q.IsEmpty() {
		logger.Infof("queue: nothing to publish")
		return nil
	}

	api, err := fediverse.Connect(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", a.cfg.App.APIBaseURL, err)
	}
	return publisher.New(a.cfg, api, q).PublishAll(ctx)
}

// PublishTest публикует одиночный тестовый статус в обход очереди и
// pretty-печатает ответ инстанса. Диагностика подключения и учётных данных.
func (a *App) PublishTest(ctx context.Context) error {
	api, err := fediverse.Connect(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", a.cfg.App.APIBaseURL, err)
	}

	if a.cfg.Publisher.DryRun {
		logger.Infof("publish-test: dry run, not posting")
		return nil
	}

	status, err := api.PostStatus(ctx, fediverse.StatusParams{
		Text:        "This is a test",
		Language:    a.cfg.DefaultLanguage(),
		Visibility:  a.cfg.App.StatusParams.Visibility,
		ContentType: a.cfg.App.StatusParams.ContentType,
	})
	if err != nil {
		return fmt.Errorf("post test status: %w", err)
	}

	logger.Infof("publish-test: posted %s", status.URL)
	pr.PP(status)
	return nil
}

// CreateApp регистрирует приложение на инстансе (client.secret), затем
// логинится настроенным пользователем и сохраняет user.secret.
func (a *App) CreateApp(ctx context.Context) error {
	creds, err := fediverse.RegisterApp(ctx, a.cfg)
	if err != nil {
		return err
	}
	pr.Printf("Registered %q at %s (client_id %s)\n", creds.Name, creds.APIBaseURL, creds.ClientID)

	if _, err := fediverse.Connect(ctx, a.cfg); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	pr.Printf("Saved user credentials to %s\n", a.cfg.App.UserCredentials)
	return nil
}

// TelegramLogin проводит интерактивную авторизацию в Telegram и сохраняет
// файл сессии. Запускается один раз перед первым прогоном с telegram-источниками.
func (a *App) TelegramLogin(ctx context.Context) error {
	client, err := tgadapter.NewClient(a.cfg)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	pr.Printf("Telegram session saved to %s\n", a.cfg.TelegramParser.SessionFile)
	return nil
}

// JanitorTest отправляет тестовое сообщение на janitor-эндпоинт, уважая те же
// гейты, что и боевой репорт: active, remote_url, dry_run.
func (a *App) JanitorTest(ctx context.Context) error {
	if !a.cfg.Janitor.Active || a.cfg.Janitor.RemoteURL == "" {
		return fmt.Errorf("janitor is not configured: set janitor.active and janitor.remote_url")
	}
	if a.cfg.Publisher.DryRun {
		logger.Infof("janitor-test: dry run, not sending")
		return nil
	}

	hostname, _ := os.Hostname()
	client := janitor.New(a.cfg.Janitor.RemoteURL, a.cfg.App.Name)
	summary := fmt.Sprintf("Test message from %s", hostname)
	message := fmt.Sprintf("janitor test fired at %s", time.Now().UTC().Format(time.RFC3339))
	if err := client.Error(ctx, summary, message); err != nil {
		return fmt.Errorf("send janitor test: %w", err)
	}
	logger.Infof("janitor-test: delivered to %s", a.cfg.Janitor.RemoteURL)
	return nil
}

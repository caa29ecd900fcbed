package fediverse

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-mastodon"
	"gopkg.in/yaml.v3"

	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/storage"
)

// ClientCredentials — документ client.secret: регистрация приложения на инстансе.
type ClientCredentials struct {
	Name         string `yaml:"name"`
	APIBaseURL   string `yaml:"api_base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// UserCredentials — документ user.secret: токен залогиненного пользователя.
type UserCredentials struct {
	User        string `yaml:"user"`
	APIBaseURL  string `yaml:"api_base_url"`
	AccessToken string `yaml:"access_token"`
}

// RegisterApp регистрирует приложение на инстансе и сохраняет client.secret.
// Одноразовый шаг: дальше логин идёт по сохранённым данным клиента.
func RegisterApp(ctx context.Context, cfg *config.Config) (*ClientCredentials, error) {
	app, err := mastodon.RegisterApp(ctx, &mastodon.AppConfig{
		Server:     cfg.App.APIBaseURL,
		ClientName: cfg.App.Name,
		Scopes:     "read write follow",
	})
	if err != nil {
		return nil, fmt.Errorf("register app at %s: %w", cfg.App.APIBaseURL, err)
	}

	creds := &ClientCredentials{
		Name:         cfg.App.Name,
		APIBaseURL:   cfg.App.APIBaseURL,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
	}
	if err := writeCredentials(cfg.App.ClientCredentials, creds); err != nil {
		return nil, err
	}
	logger.Infof("registered app %q, client credentials saved to %s", cfg.App.Name, cfg.App.ClientCredentials)
	return creds, nil
}

// Connect возвращает клиент инстанса. Сохранённый user.secret имеет приоритет;
// без него выполняется логин по client.secret и паре email/password из
// конфигурации, полученный токен сохраняется для следующих запусков.
func Connect(ctx context.Context, cfg *config.Config) (*Client, error) {
	var user UserCredentials
	if err := readCredentials(cfg.App.UserCredentials, &user); err == nil {
		return NewClient(user.APIBaseURL, user.AccessToken, cfg.App.InstanceType), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var client ClientCredentials
	if err := readCredentials(cfg.App.ClientCredentials, &client); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no credentials at %s: run create-app first", cfg.App.ClientCredentials)
		}
		return nil, err
	}

	mc := mastodon.NewClient(&mastodon.Config{
		Server:       client.APIBaseURL,
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
	})
	if err := mc.Authenticate(ctx, cfg.App.User.Email, cfg.App.User.Password); err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", cfg.App.User.Email, err)
	}

	user = UserCredentials{
		User:        cfg.App.User.Email,
		APIBaseURL:  client.APIBaseURL,
		AccessToken: mc.Config.AccessToken,
	}
	if err := writeCredentials(cfg.App.UserCredentials, &user); err != nil {
		return nil, err
	}
	logger.Infof("logged in as %s, user credentials saved to %s", cfg.App.User.Email, cfg.App.UserCredentials)

	return NewClient(user.APIBaseURL, user.AccessToken, cfg.App.InstanceType), nil
}

func readCredentials(path string, out any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- путь из конфигурации
	if err != nil {
		return fmt.Errorf("read credentials %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return nil
}

func writeCredentials(path string, in any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := storage.AtomicWriteFile(path, data); err != nil {
		return fmt.Errorf("write credentials %s: %w", path, err)
	}
	return nil
}

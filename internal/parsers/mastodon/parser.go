// Package mastodon — парсер аккаунтов Mastodon-совместимых инстансов.
// Наблюдаемые аккаунты продвигаются, а не перепечатываются: каждый подходящий
// статус превращается в действие reblog. Состояние по аккаунту (идентификатор
// и последний виденный статус) хранится под хэшированным ключом пользователя.
package mastodon

import (
	"context"
	"fmt"

	"fedibot/internal/adapters/fediverse"
	"fedibot/internal/domain/post"
	"fedibot/internal/infra/config"
	"fedibot/internal/infra/logger"
	"fedibot/internal/infra/storage"
	"fedibot/internal/parsers"
)

const visibilityPublic = "public"

// Parser реализует parsers.Parser для набора наблюдаемых аккаунтов.
type Parser struct {
	api      fediverse.API
	doc      *storage.Document
	accounts map[string]config.MastodonAccount

	ignoreOffsets bool
	onlyPublic    bool

	// lastSeen — кандидат last_seen_toot по источнику, записанный при FetchRaw
	// и сохраняемый при MarkSeen.
	lastSeen map[string]string
}

var _ parsers.Parser = (*Parser)(nil)

// New создаёт парсер аккаунтов поверх клиента инстанса и документа состояния.
func New(cfg *config.Config, api fediverse.API, doc *storage.Document) *Parser {
	accounts := make(map[string]config.MastodonAccount, len(cfg.MastodonParser.Accounts))
	for _, account := range cfg.MastodonParser.Accounts {
		accounts[account.User] = account
	}
	return &Parser{
		api:           api,
		doc:           doc,
		accounts:      accounts,
		ignoreOffsets: cfg.MastodonParser.IgnoreTootsOffset,
		onlyPublic:    cfg.MastodonParser.OnlyPublicVisibility,
		lastSeen:      make(map[string]string, len(accounts)),
	}
}

// Name возвращает имя парсера.
func (p *Parser) Name() string { return "mastodon" }

// Sources возвращает наблюдаемые аккаунты по строке пользователя.
func (p *Parser) Sources() map[string]parsers.SourceParams {
	out := make(map[string]parsers.SourceParams, len(p.accounts))
	for user, account := range p.accounts {
		out[user] = parsers.SourceParams{
			Name:            user,
			KeywordsProfile: account.KeywordsFilterProfile,
		}
	}
	return out
}

// FetchRaw выгружает новые статусы аккаунта и превращает подходящие в действия
// reblog. Ответы и чужие статусы без нужных флагов отбрасываются сразу.
func (p *Parser) FetchRaw(ctx context.Context, source string) ([]post.QueuePost, error) {
	account, ok := p.accounts[source]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mastodon source %q", parsers.ErrSourceMalformed, source)
	}

	accountID, sinceID, err := p.resolveAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	if p.ignoreOffsets {
		sinceID = ""
	}

	statuses, err := p.api.AccountStatuses(ctx, accountID, sinceID)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", parsers.ErrSourceUnreachable, source, err)
	}
	if len(statuses) == 0 {
		logger.Debugf("mastodon: no statuses for %s, may be a federation delay", source)
		return nil, nil
	}

	// Статусы приходят от новых к старым: первый и есть будущий last_seen_toot.
	p.lastSeen[source] = statuses[0].ID

	out := make([]post.QueuePost, 0, len(statuses))
	for _, status := range statuses {
		if p.onlyPublic && status.Visibility != visibilityPublic {
			continue
		}
		isReblog := status.ReblogOfID != ""
		if isReblog && !account.Retoots {
			continue
		}
		if !isReblog && (status.IsReply || !account.Toots) {
			continue
		}
		out = append(out, post.QueuePost{
			ID:                 status.ID,
			Action:             post.ReblogAction(status.ID),
			PublishedAt:        status.CreatedAt,
			RawCombinedContent: status.Content,
		})
	}
	return out, nil
}

// AlreadySeen всегда false: границу новизны обеспечивает since_id в запросе.
func (p *Parser) AlreadySeen(string, string) bool { return false }

// MarkSeen продвигает last_seen_toot источника, зафиксированный при FetchRaw,
// и сохраняет документ аккаунтов. Список идентификаторов не важен: граница —
// самый свежий из полученных статусов, а не из поставленных в очередь.
func (p *Parser) MarkSeen(source string, _ []string) error {
	newLastSeen, ok := p.lastSeen[source]
	if !ok {
		return nil
	}
	account, ok := p.accounts[source]
	if !ok {
		return fmt.Errorf("unknown mastodon source %q", source)
	}

	stored, _ := p.doc.GetHashed(account.User).(map[string]any)
	accountID := storage.String(stored["id"])
	p.doc.SetHashed(account.User, map[string]any{
		"id":             accountID,
		"last_seen_toot": newLastSeen,
	})
	if err := p.doc.Write(); err != nil {
		return fmt.Errorf("save accounts state: %w", err)
	}
	return nil
}

// PostProcess — тождественная операция: статусы не группируются и не режутся.
func (p *Parser) PostProcess(_ string, posts []post.QueuePost) []post.QueuePost {
	return posts
}

// ParseMedia — продвижение не несёт собственных вложений.
func (p *Parser) ParseMedia(context.Context, *post.QueuePost) error { return nil }

// FormatPost — продвижение публикуется без собственного текста.
func (p *Parser) FormatPost(string, *post.QueuePost) {}

// resolveAccount возвращает идентификатор аккаунта и сохранённый last_seen_toot.
// Незнакомый аккаунт ищется на инстансе; при auto_follow бот подписывается,
// если ещё не подписан.
func (p *Parser) resolveAccount(ctx context.Context, account config.MastodonAccount) (string, string, error) {
	if stored, ok := p.doc.GetHashed(account.User).(map[string]any); ok {
		if id := storage.String(stored["id"]); id != "" {
			return id, storage.String(stored["last_seen_toot"]), nil
		}
	}

	logger.Debugf("mastodon: searching for %s", account.User)
	found, err := p.api.SearchAccount(ctx, account.User)
	if err != nil {
		return "", "", fmt.Errorf("%w: search %s: %v", parsers.ErrSourceUnreachable, account.User, err)
	}
	if found == nil {
		return "", "", fmt.Errorf("%w: no account found for %s", parsers.ErrSourceMalformed, account.User)
	}

	p.doc.SetHashed(account.User, map[string]any{"id": found.ID})
	if err := p.doc.Write(); err != nil {
		return "", "", fmt.Errorf("save accounts state: %w", err)
	}

	if account.AutoFollow {
		if err := p.autoFollow(ctx, account.User, found.ID); err != nil {
			return "", "", err
		}
	}
	return found.ID, "", nil
}

// autoFollow подписывает бота на аккаунт, сверившись со списком подписок.
// Федерация обновляется не мгновенно: статусы появятся спустя некоторое время.
func (p *Parser) autoFollow(ctx context.Context, user, accountID string) error {
	me, err := p.api.VerifyCredentials(ctx)
	if err != nil {
		return fmt.Errorf("%w: own account: %v", parsers.ErrSourceUnreachable, err)
	}
	following, err := p.api.Following(ctx, me.ID)
	if err != nil {
		return fmt.Errorf("%w: own following: %v", parsers.ErrSourceUnreachable, err)
	}
	for _, followed := range following {
		if followed.ID == accountID {
			logger.Debugf("mastodon: already following %s", user)
			return nil
		}
	}

	logger.Infof("mastodon: following the account %s", user)
	if err := p.api.Follow(ctx, accountID); err != nil {
		return fmt.Errorf("%w: follow %s: %v", parsers.ErrSourceUnreachable, user, err)
	}
	return nil
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/opslog"
	"github.com/zulandar/relayhub/internal/store"
)

// SessionController starts and stops managed bot sessions. *Multiplexer
// implements it.
type SessionController interface {
	Add(ctx context.Context, bot models.ManagedBot) error
	Remove(credential string) bool
}

// BotStats are the counts shown to a bot's owner.
type BotStats struct {
	Bot         models.ManagedBot
	Subscribers int64
	Admins      int
}

// RegistrarOpts configures a Registrar.
type RegistrarOpts struct {
	Store        store.Store
	Connectors   Connectors
	Sessions     SessionController // optional; nil skips session start/stop
	Reporter     Reporter
	Log          *logrus.Logger
	ProbeTimeout time.Duration
	// Reserved credentials cannot be registered, e.g. the hub's own token.
	Reserved []string
	Now      func() time.Time
}

// Registrar owns bot registration and admin management. Every write for a
// credential happens under that credential's lock.
type Registrar struct {
	store        store.Store
	connectors   Connectors
	sessions     SessionController
	reporter     Reporter
	log          *logrus.Logger
	probeTimeout time.Duration
	reserved     map[string]bool
	locks        *keyedLock
	now          func() time.Time
}

// NewRegistrar creates a Registrar.
func NewRegistrar(opts RegistrarOpts) (*Registrar, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	if len(opts.Connectors) == 0 {
		return nil, fmt.Errorf("relay: at least one connector is required")
	}
	r := &Registrar{
		store:        opts.Store,
		connectors:   opts.Connectors,
		sessions:     opts.Sessions,
		reporter:     opts.Reporter,
		log:          opts.Log,
		probeTimeout: opts.ProbeTimeout,
		reserved:     make(map[string]bool, len(opts.Reserved)),
		locks:        newKeyedLock(),
		now:          opts.Now,
	}
	for _, c := range opts.Reserved {
		r.reserved[c] = true
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.reporter == nil {
		r.reporter = opslog.NewReporter(r.log, opslog.LogSink{Log: r.log})
	}
	if r.probeTimeout <= 0 {
		r.probeTimeout = 10 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Register validates credential on platform and records requesterID as its
// owner. A failed probe returns ErrInvalidCredential and changes nothing; a
// credential that is already managed returns ErrAlreadyRegistered. A session
// start failure after the bot is stored is reported, not returned.
func (r *Registrar) Register(ctx context.Context, platform, credential, requesterID string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" || r.reserved[credential] {
		return Identity{}, ErrInvalidCredential
	}
	if requesterID == "" {
		return Identity{}, fmt.Errorf("relay: requester is required")
	}
	conn, err := r.connectors.Get(platform)
	if err != nil {
		return Identity{}, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	id, err := conn.Probe(probeCtx, credential)
	cancel()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	unlock := r.locks.Lock(credential)
	defer unlock()

	bot := models.ManagedBot{
		ID:         uuid.NewString(),
		Credential: credential,
		Platform:   conn.Platform(),
		Handle:     id.Handle,
		OwnerID:    requesterID,
		CreatedAt:  r.now(),
	}
	if err := r.store.PutBot(ctx, &bot); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Identity{}, ErrAlreadyRegistered
		}
		return Identity{}, fmt.Errorf("relay: register bot: %w", err)
	}

	r.reporter.Report(ctx, opslog.Event{
		Kind:    opslog.KindBotRegistered,
		Bot:     BotLabel(bot),
		Message: "bot registered by " + requesterID,
	})

	if r.sessions != nil {
		// Failures are reported by the session controller.
		_ = r.sessions.Add(ctx, bot)
	}
	return id, nil
}

// GrantAdmin lets adminID receive and answer messages for the referenced
// bot. Only the owner may grant. Granting twice only refreshes the timestamp.
func (r *Registrar) GrantAdmin(ctx context.Context, botRef, requesterID, adminID string) error {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return fmt.Errorf("relay: admin id is required")
	}
	return r.withOwnedBot(ctx, botRef, requesterID, func(bot *models.ManagedBot) error {
		if err := r.store.PutAdmin(ctx, bot.Credential, adminID, r.now()); err != nil {
			return fmt.Errorf("relay: grant admin: %w", err)
		}
		return nil
	})
}

// RevokeAdmin removes adminID from the referenced bot. Only the owner may
// revoke. Returns ErrNotAdmin if adminID held no grant.
func (r *Registrar) RevokeAdmin(ctx context.Context, botRef, requesterID, adminID string) error {
	adminID = strings.TrimSpace(adminID)
	return r.withOwnedBot(ctx, botRef, requesterID, func(bot *models.ManagedBot) error {
		err := r.store.DeleteAdmin(ctx, bot.Credential, adminID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAdmin
		}
		if err != nil {
			return fmt.Errorf("relay: revoke admin: %w", err)
		}
		return nil
	})
}

// ListBots returns the bots owned by ownerID in registration order.
func (r *Registrar) ListBots(ctx context.Context, ownerID string) ([]models.ManagedBot, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("relay: owner id is required")
	}
	bots, err := r.store.ListBots(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("relay: list bots: %w", err)
	}
	return bots, nil
}

// ListAdmins returns the admins of the referenced bot in grant order.
func (r *Registrar) ListAdmins(ctx context.Context, botRef, requesterID string) ([]string, error) {
	bot, err := r.resolveOwned(ctx, botRef, requesterID)
	if err != nil {
		return nil, err
	}
	admins, err := r.store.ListAdmins(ctx, bot.Credential)
	if err != nil {
		return nil, fmt.Errorf("relay: list admins: %w", err)
	}
	return admins, nil
}

// Stats returns subscriber and admin counts for the referenced bot.
func (r *Registrar) Stats(ctx context.Context, botRef, requesterID string) (BotStats, error) {
	bot, err := r.resolveOwned(ctx, botRef, requesterID)
	if err != nil {
		return BotStats{}, err
	}
	subs, err := r.store.CountSubscribers(ctx, bot.Credential)
	if err != nil {
		return BotStats{}, fmt.Errorf("relay: count subscribers: %w", err)
	}
	admins, err := r.store.ListAdmins(ctx, bot.Credential)
	if err != nil {
		return BotStats{}, fmt.Errorf("relay: list admins: %w", err)
	}
	return BotStats{Bot: *bot, Subscribers: subs, Admins: len(admins)}, nil
}

// Disconnect stops the bot's session and deletes it with its admin grants.
// Delivery mappings stay until pruned.
func (r *Registrar) Disconnect(ctx context.Context, botRef, requesterID string) error {
	return r.withOwnedBot(ctx, botRef, requesterID, func(bot *models.ManagedBot) error {
		if r.sessions != nil {
			r.sessions.Remove(bot.Credential)
		}
		if err := r.store.DeleteBot(ctx, bot.Credential); err != nil {
			return fmt.Errorf("relay: disconnect bot: %w", err)
		}
		r.reporter.Report(ctx, opslog.Event{
			Kind:    opslog.KindBotDisconnected,
			Bot:     BotLabel(*bot),
			Message: "bot disconnected by " + requesterID,
		})
		return nil
	})
}

// withOwnedBot resolves botRef, takes its credential lock, re-checks
// ownership under the lock and runs fn.
func (r *Registrar) withOwnedBot(ctx context.Context, botRef, requesterID string, fn func(*models.ManagedBot) error) error {
	bot, err := r.resolveOwned(ctx, botRef, requesterID)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(bot.Credential)
	defer unlock()

	// The bot may have been disconnected while we waited.
	bot, err = r.resolveOwned(ctx, bot.Credential, requesterID)
	if err != nil {
		return err
	}
	return fn(bot)
}

// resolveOwned finds the bot named by botRef and checks requesterID owns it.
// botRef is a credential or an "@handle" among the requester's bots. Unknown
// bots and bots owned by someone else both yield ErrNotOwner.
func (r *Registrar) resolveOwned(ctx context.Context, botRef, requesterID string) (*models.ManagedBot, error) {
	botRef = strings.TrimSpace(botRef)
	if botRef == "" || requesterID == "" {
		return nil, ErrNotOwner
	}

	if handle, ok := strings.CutPrefix(botRef, "@"); ok {
		bots, err := r.store.ListBots(ctx, requesterID)
		if err != nil {
			return nil, fmt.Errorf("relay: list bots: %w", err)
		}
		for i := range bots {
			if strings.EqualFold(bots[i].Handle, handle) {
				return &bots[i], nil
			}
		}
		return nil, ErrNotOwner
	}

	bot, err := r.store.GetBot(ctx, botRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotOwner
	}
	if err != nil {
		return nil, fmt.Errorf("relay: load bot: %w", err)
	}
	if bot.OwnerID != requesterID {
		return nil, ErrNotOwner
	}
	return bot, nil
}

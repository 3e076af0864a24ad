// Package store is the persistence gateway for managed bots, admin grants,
// subscribers and delivery mappings. It holds no business logic.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zulandar/relayhub/internal/models"
)

var (
	// ErrNotFound is returned when a point lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert-only write hits an existing key.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Store is implemented by every persistence backend. All operations are
// synchronous: a caller observes its own writes on the next read.
type Store interface {
	// PutBot inserts a managed bot. Returns ErrDuplicate if the credential exists.
	PutBot(ctx context.Context, bot *models.ManagedBot) error
	// GetBot returns the bot registered under credential, or ErrNotFound.
	GetBot(ctx context.Context, credential string) (*models.ManagedBot, error)
	// ListBots returns bots in creation order. An empty ownerID lists all bots.
	ListBots(ctx context.Context, ownerID string) ([]models.ManagedBot, error)
	// DeleteBot removes a bot and its admin grants. Returns ErrNotFound if absent.
	DeleteBot(ctx context.Context, credential string) error

	// UpsertSubscriber sets the profile fields for (credential, userID).
	UpsertSubscriber(ctx context.Context, sub models.Subscriber) error
	// CountSubscribers returns how many distinct users have messaged a bot.
	CountSubscribers(ctx context.Context, credential string) (int64, error)

	// PutAdmin grants adminID on credential; re-granting refreshes grantedAt.
	PutAdmin(ctx context.Context, credential, adminID string, grantedAt time.Time) error
	// DeleteAdmin revokes a grant. Returns ErrNotFound if there was none.
	DeleteAdmin(ctx context.Context, credential, adminID string) error
	// GetAdmin returns the grant for (credential, adminID), or ErrNotFound.
	GetAdmin(ctx context.Context, credential, adminID string) (*models.AdminGrant, error)
	// ListAdmins returns admin ids in grant (insertion) order.
	ListAdmins(ctx context.Context, credential string) ([]string, error)

	// PutMapping inserts a delivery mapping. Returns ErrDuplicate if the key exists.
	PutMapping(ctx context.Context, m *models.DeliveryMapping) error
	// GetMapping resolves a forwarded message within one bot's chat, or ErrNotFound.
	GetMapping(ctx context.Context, credential, chatID, messageID string) (*models.DeliveryMapping, error)
	// PruneMappings deletes mappings created before cutoff.
	PruneMappings(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/relayhub/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store over a GORM connection (SQLite or MySQL).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already migrated GORM connection.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying connection for read-only reporting queries.
func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) PutBot(ctx context.Context, bot *models.ManagedBot) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.ManagedBot{}).Where("credential = ?", bot.Credential).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicate
		}
		return tx.Create(bot).Error
	})
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("store: put bot: %w", err)
	}
	return nil
}

func (s *GormStore) GetBot(ctx context.Context, credential string) (*models.ManagedBot, error) {
	var bot models.ManagedBot
	err := s.db.WithContext(ctx).Where("credential = ?", credential).First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get bot: %w", err)
	}
	return &bot, nil
}

func (s *GormStore) ListBots(ctx context.Context, ownerID string) ([]models.ManagedBot, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var bots []models.ManagedBot
	if err := q.Find(&bots).Error; err != nil {
		return nil, fmt.Errorf("store: list bots: %w", err)
	}
	return bots, nil
}

func (s *GormStore) DeleteBot(ctx context.Context, credential string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("credential = ?", credential).Delete(&models.ManagedBot{})
		if res.Error != nil {
			return fmt.Errorf("store: delete bot: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("credential = ?", credential).Delete(&models.AdminGrant{}).Error; err != nil {
			return fmt.Errorf("store: delete admins of bot: %w", err)
		}
		return nil
	})
}

func (s *GormStore) UpsertSubscriber(ctx context.Context, sub models.Subscriber) error {
	sub.ID = 0
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "credential"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "handle", "last_active_at"}),
	}).Create(&sub)
	if result.Error != nil {
		return fmt.Errorf("store: upsert subscriber: %w", result.Error)
	}
	return nil
}

func (s *GormStore) CountSubscribers(ctx context.Context, credential string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Subscriber{}).
		Where("credential = ?", credential).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("store: count subscribers: %w", err)
	}
	return n, nil
}

func (s *GormStore) PutAdmin(ctx context.Context, credential, adminID string, grantedAt time.Time) error {
	grant := models.AdminGrant{
		Credential: credential,
		AdminID:    adminID,
		GrantedAt:  grantedAt,
		CreatedAt:  grantedAt,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "credential"}, {Name: "admin_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted_at"}),
	}).Create(&grant)
	if result.Error != nil {
		return fmt.Errorf("store: put admin: %w", result.Error)
	}
	return nil
}

func (s *GormStore) DeleteAdmin(ctx context.Context, credential, adminID string) error {
	res := s.db.WithContext(ctx).
		Where("credential = ? AND admin_id = ?", credential, adminID).
		Delete(&models.AdminGrant{})
	if res.Error != nil {
		return fmt.Errorf("store: delete admin: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetAdmin(ctx context.Context, credential, adminID string) (*models.AdminGrant, error) {
	var grant models.AdminGrant
	err := s.db.WithContext(ctx).
		Where("credential = ? AND admin_id = ?", credential, adminID).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get admin: %w", err)
	}
	return &grant, nil
}

func (s *GormStore) ListAdmins(ctx context.Context, credential string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.AdminGrant{}).
		Where("credential = ?", credential).
		Order("created_at ASC, id ASC").
		Pluck("admin_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("store: list admins: %w", err)
	}
	return ids, nil
}

func (s *GormStore) PutMapping(ctx context.Context, m *models.DeliveryMapping) error {
	err := s.db.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("store: put mapping: %w", err)
	}
	return nil
}

func (s *GormStore) GetMapping(ctx context.Context, credential, chatID, messageID string) (*models.DeliveryMapping, error) {
	var m models.DeliveryMapping
	err := s.db.WithContext(ctx).
		Where("credential = ? AND forwarded_chat_id = ? AND forwarded_message_id = ?", credential, chatID, messageID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get mapping: %w", err)
	}
	return &m, nil
}

func (s *GormStore) PruneMappings(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.DeliveryMapping{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: prune mappings: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}

package models

import "time"

// Platform names accepted for managed bots.
const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
)

// ManagedBot is a registered third-party bot credential whose inbound
// traffic the hub relays to its owner and admins.
type ManagedBot struct {
	ID         string    `gorm:"primaryKey;size:36" bson:"bot_id"`
	Credential string    `gorm:"size:255;not null;uniqueIndex" bson:"credential"`
	Platform   string    `gorm:"size:16;not null;default:telegram" bson:"platform"`
	Handle     string    `gorm:"size:64;index" bson:"handle"`
	OwnerID    string    `gorm:"size:64;not null;index" bson:"owner_id"`
	CreatedAt  time.Time `bson:"created_at"`
}

// AdminGrant delegates relay-reply rights over a managed bot to a user.
// (Credential, AdminID) is unique; re-granting only refreshes GrantedAt.
type AdminGrant struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" bson:"-"`
	Credential string    `gorm:"size:255;not null;uniqueIndex:idx_admin_bot" bson:"credential"`
	AdminID    string    `gorm:"size:64;not null;uniqueIndex:idx_admin_bot" bson:"admin_id"`
	GrantedAt  time.Time `bson:"granted_at"`
	CreatedAt  time.Time `gorm:"index" bson:"created_at"`
}

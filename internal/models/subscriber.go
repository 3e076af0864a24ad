package models

import "time"

// Subscriber is a user who has messaged a managed bot. Upserted on every
// inbound message.
type Subscriber struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" bson:"-"`
	Credential   string    `gorm:"size:255;not null;uniqueIndex:idx_subscriber_bot" bson:"credential"`
	UserID       string    `gorm:"size:64;not null;uniqueIndex:idx_subscriber_bot" bson:"user_id"`
	DisplayName  string    `gorm:"size:128" bson:"display_name"`
	Handle       string    `gorm:"size:64" bson:"handle"`
	LastActiveAt time.Time `gorm:"index" bson:"last_active_at"`
}

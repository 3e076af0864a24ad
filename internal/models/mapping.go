package models

import "time"

// DeliveryMapping links one forwarded copy of an inbound message back to the
// user who sent the original. Message ids are only unique within a single
// bot's chat, so the key is (Credential, ForwardedChatID, ForwardedMessageID).
// Rows are insert-only.
type DeliveryMapping struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement" bson:"-"`
	Credential         string    `gorm:"size:255;not null;uniqueIndex:idx_mapping_key" bson:"credential"`
	ForwardedChatID    string    `gorm:"size:64;not null;uniqueIndex:idx_mapping_key" bson:"forwarded_chat_id"`
	ForwardedMessageID string    `gorm:"size:64;not null;uniqueIndex:idx_mapping_key" bson:"forwarded_message_id"`
	OriginalSenderID   string    `gorm:"size:64;not null" bson:"original_sender_id"`
	OriginalChatID     string    `gorm:"size:64;not null" bson:"original_chat_id"`
	CreatedAt          time.Time `gorm:"index" bson:"created_at"`
}

package models

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

func TestManagedBot_Fields(t *testing.T) {
	typ := reflect.TypeOf(ManagedBot{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Credential", "uniqueIndex")
	assertGormTag(t, typ, "Credential", "not null")
	assertGormTag(t, typ, "Platform", "default:telegram")
	assertGormTag(t, typ, "OwnerID", "index")
}

func TestAdminGrant_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(AdminGrant{})

	assertGormTag(t, typ, "Credential", "uniqueIndex:idx_admin_bot")
	assertGormTag(t, typ, "AdminID", "uniqueIndex:idx_admin_bot")
}

func TestSubscriber_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(Subscriber{})

	assertGormTag(t, typ, "Credential", "uniqueIndex:idx_subscriber_bot")
	assertGormTag(t, typ, "UserID", "uniqueIndex:idx_subscriber_bot")
}

func TestDeliveryMapping_ScopedKey(t *testing.T) {
	typ := reflect.TypeOf(DeliveryMapping{})

	for _, f := range []string{"Credential", "ForwardedChatID", "ForwardedMessageID"} {
		assertGormTag(t, typ, f, "uniqueIndex:idx_mapping_key")
	}
	if strings.Contains(gormTag(t, typ, "OriginalSenderID"), "uniqueIndex") {
		t.Error("OriginalSenderID must not be part of the mapping key")
	}
}

func TestModels_AutoMigrateSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&ManagedBot{}, &AdminGrant{}, &Subscriber{}, &DeliveryMapping{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	m := DeliveryMapping{
		Credential:         "tok",
		ForwardedChatID:    "1",
		ForwardedMessageID: "10",
		OriginalSenderID:   "42",
		OriginalChatID:     "42",
		CreatedAt:          time.Now(),
	}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	dup := m
	dup.ID = 0
	if err := db.Create(&dup).Error; err == nil {
		t.Error("expected unique violation for duplicate mapping key")
	}
	other := m
	other.ID = 0
	other.Credential = "other-tok"
	if err := db.Create(&other).Error; err != nil {
		t.Errorf("same message id under another bot should be allowed: %v", err)
	}
}

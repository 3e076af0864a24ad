// Package mongo implements the persistence gateway over MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names.
const (
	botsCollection        = "bots"
	subscribersCollection = "users"
	adminsCollection      = "admins"
	mappingsCollection    = "messages"
)

// Store implements store.Store using MongoDB collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	s := &Store{client: client, db: client.Database(database)}
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique keys the gateway relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	collections := map[string][]mongo.IndexModel{
		botsCollection: {
			{Keys: bson.D{{Key: "credential", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		subscribersCollection: {
			{
				Keys:    bson.D{{Key: "credential", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		adminsCollection: {
			{
				Keys:    bson.D{{Key: "credential", Value: 1}, {Key: "admin_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "credential", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		mappingsCollection: {
			{
				Keys: bson.D{
					{Key: "credential", Value: 1},
					{Key: "forwarded_chat_id", Value: 1},
					{Key: "forwarded_message_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
	}
	for name, indexes := range collections {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo: create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// Drop removes every collection. Used by integration tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) PutBot(ctx context.Context, bot *models.ManagedBot) error {
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now()
	}
	_, err := s.db.Collection(botsCollection).InsertOne(ctx, bot)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("mongo: put bot: %w", err)
	}
	return nil
}

func (s *Store) GetBot(ctx context.Context, credential string) (*models.ManagedBot, error) {
	var bot models.ManagedBot
	err := s.db.Collection(botsCollection).FindOne(ctx, bson.D{{Key: "credential", Value: credential}}).Decode(&bot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get bot: %w", err)
	}
	return &bot, nil
}

func (s *Store) ListBots(ctx context.Context, ownerID string) ([]models.ManagedBot, error) {
	filter := bson.D{}
	if ownerID != "" {
		filter = bson.D{{Key: "owner_id", Value: ownerID}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(botsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list bots: %w", err)
	}
	var bots []models.ManagedBot
	if err := cur.All(ctx, &bots); err != nil {
		return nil, fmt.Errorf("mongo: decode bots: %w", err)
	}
	return bots, nil
}

// DeleteBot removes the bot's admin grants before the bot itself, so a failure
// part way leaves the bot in place and the call can be retried. Grants left
// without a bot are removed too.
func (s *Store) DeleteBot(ctx context.Context, credential string) error {
	filter := bson.D{{Key: "credential", Value: credential}}
	if _, err := s.db.Collection(adminsCollection).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("mongo: delete admins of bot: %w", err)
	}
	res, err := s.db.Collection(botsCollection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("mongo: delete bot: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertSubscriber(ctx context.Context, sub models.Subscriber) error {
	filter := bson.D{
		{Key: "credential", Value: sub.Credential},
		{Key: "user_id", Value: sub.UserID},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "display_name", Value: sub.DisplayName},
		{Key: "handle", Value: sub.Handle},
		{Key: "last_active_at", Value: sub.LastActiveAt},
	}}}
	_, err := s.db.Collection(subscribersCollection).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert subscriber: %w", err)
	}
	return nil
}

func (s *Store) CountSubscribers(ctx context.Context, credential string) (int64, error) {
	n, err := s.db.Collection(subscribersCollection).CountDocuments(ctx, bson.D{{Key: "credential", Value: credential}})
	if err != nil {
		return 0, fmt.Errorf("mongo: count subscribers: %w", err)
	}
	return n, nil
}

func (s *Store) PutAdmin(ctx context.Context, credential, adminID string, grantedAt time.Time) error {
	filter := bson.D{
		{Key: "credential", Value: credential},
		{Key: "admin_id", Value: adminID},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "granted_at", Value: grantedAt}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: grantedAt}}},
	}
	_, err := s.db.Collection(adminsCollection).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: put admin: %w", err)
	}
	return nil
}

func (s *Store) DeleteAdmin(ctx context.Context, credential, adminID string) error {
	res, err := s.db.Collection(adminsCollection).DeleteOne(ctx, bson.D{
		{Key: "credential", Value: credential},
		{Key: "admin_id", Value: adminID},
	})
	if err != nil {
		return fmt.Errorf("mongo: delete admin: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetAdmin(ctx context.Context, credential, adminID string) (*models.AdminGrant, error) {
	var grant models.AdminGrant
	err := s.db.Collection(adminsCollection).FindOne(ctx, bson.D{
		{Key: "credential", Value: credential},
		{Key: "admin_id", Value: adminID},
	}).Decode(&grant)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get admin: %w", err)
	}
	return &grant, nil
}

func (s *Store) ListAdmins(ctx context.Context, credential string) ([]string, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(adminsCollection).Find(ctx, bson.D{{Key: "credential", Value: credential}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list admins: %w", err)
	}
	var grants []models.AdminGrant
	if err := cur.All(ctx, &grants); err != nil {
		return nil, fmt.Errorf("mongo: decode admins: %w", err)
	}
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.AdminID)
	}
	return ids, nil
}

func (s *Store) PutMapping(ctx context.Context, m *models.DeliveryMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Collection(mappingsCollection).InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("mongo: put mapping: %w", err)
	}
	return nil
}

func (s *Store) GetMapping(ctx context.Context, credential, chatID, messageID string) (*models.DeliveryMapping, error) {
	var m models.DeliveryMapping
	err := s.db.Collection(mappingsCollection).FindOne(ctx, bson.D{
		{Key: "credential", Value: credential},
		{Key: "forwarded_chat_id", Value: chatID},
		{Key: "forwarded_message_id", Value: messageID},
	}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get mapping: %w", err)
	}
	return &m, nil
}

func (s *Store) PruneMappings(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Collection(mappingsCollection).DeleteMany(ctx, bson.D{
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	})
	if err != nil {
		return 0, fmt.Errorf("mongo: prune mappings: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

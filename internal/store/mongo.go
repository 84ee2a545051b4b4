package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"refgate-bot/internal/models"
)

const mongoOpTimeout = 5 * time.Second

// Mongo backs the store with MongoDB, one collection per logical
// collection, upsert-by-key on every save.
type Mongo struct {
	client    *mongo.Client
	users     *mongo.Collection
	channels  *mongo.Collection
	referrals *mongo.Collection
	pending   *mongo.Collection
}

func ConnectMongo(mongoURL string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Println("Connected to MongoDB")

	db := client.Database("referral_bot")
	m := &Mongo{
		client:    client,
		users:     db.Collection("users"),
		channels:  db.Collection("channels"),
		referrals: db.Collection("referrals"),
		pending:   db.Collection("pending_referrals"),
	}
	m.ensureIndexes(ctx)
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll *mongo.Collection
		key  string
	}{
		{m.users, "user_id"},
		{m.channels, "chat_id"},
		{m.referrals, "referred_id"},
		{m.pending, "referred_id"},
	}
	for _, idx := range indexes {
		_, err := idx.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: idx.key, Value: 1}},
			Options: unique,
		})
		if err != nil {
			log.Printf("Failed to create index on %s.%s: %v", idx.coll.Name(), idx.key, err)
		}
	}
}

func (m *Mongo) LoadUsers() ([]models.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := m.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (m *Mongo) SaveUser(u *models.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.users.UpdateOne(
		ctx,
		bson.M{"user_id": u.ID},
		bson.M{"$set": u.Clone()},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) LoadChannels() ([]models.Channel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	cursor, err := m.channels.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var channels []models.Channel
	if err = cursor.All(ctx, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (m *Mongo) SaveChannel(ch models.Channel) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.channels.UpdateOne(
		ctx,
		bson.M{"chat_id": ch.ChatID},
		bson.M{"$setOnInsert": ch},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) LoadReferrals() ([]models.Referral, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	cursor, err := m.referrals.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var referrals []models.Referral
	if err = cursor.All(ctx, &referrals); err != nil {
		return nil, err
	}
	return referrals, nil
}

func (m *Mongo) SaveReferral(r models.Referral) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.referrals.UpdateOne(
		ctx,
		bson.M{"referred_id": r.ReferredID},
		bson.M{"$setOnInsert": r},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) LoadPending() ([]models.PendingReferral, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	cursor, err := m.pending.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var pending []models.PendingReferral
	if err = cursor.All(ctx, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (m *Mongo) SavePending(p models.PendingReferral) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.pending.UpdateOne(
		ctx,
		bson.M{"referred_id": p.ReferredID},
		bson.M{"$setOnInsert": p},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) DeletePending(referredID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.pending.DeleteOne(ctx, bson.M{"referred_id": referredID})
	return err
}

func (m *Mongo) Name() string { return "mongo" }

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

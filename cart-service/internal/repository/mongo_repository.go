package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// snapshotDocument is one session's cart. The payload is the encoded
// snapshot so that every backend hands the same bytes to the migration.
type snapshotDocument struct {
	SessionID string    `bson:"_id"`
	Payload   string    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoRepository persists cart snapshots in the "cart_snapshots" collection.
type MongoRepository struct {
	collection  *mongo.Collection
	expireAfter time.Duration
}

func NewMongoRepository(db *mongo.Database, expireAfter time.Duration) *MongoRepository {
	return &MongoRepository{
		collection:  db.Collection("cart_snapshots"),
		expireAfter: expireAfter,
	}
}

func (m *MongoRepository) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var doc snapshotDocument

	err := m.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get cart snapshot: %w", err)
	}

	return []byte(doc.Payload), nil
}

func (m *MongoRepository) Save(ctx context.Context, sessionID string, data []byte) error {
	now := time.Now()

	filter := bson.M{"_id": sessionID}
	update := bson.M{
		"$set": bson.M{
			"payload":    string(data),
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart snapshot: %w", err)
	}

	return nil
}

func (m *MongoRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete cart snapshot: %w", err)
	}

	return nil
}

// CreateIndexes expires snapshots that were not touched for expireAfter.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	if m.expireAfter <= 0 {
		return nil
	}

	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(m.expireAfter.Seconds())),
	}

	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

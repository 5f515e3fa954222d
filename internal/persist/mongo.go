package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type stateDocument struct {
	ID        string    `bson:"_id"`
	Store     string    `bson:"store"`
	Session   string    `bson:"session"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type MongoStore struct {
	collection *mongo.Collection
	ttl        time.Duration
}

func NewMongoStore(db *mongo.Database, ttl time.Duration) *MongoStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &MongoStore{
		collection: db.Collection("client_state"),
		ttl:        ttl,
	}
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

func (m *MongoStore) Load(ctx context.Context, name Name, session string, v any) error {
	var doc stateDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": key(name, session)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	return unmarshal(name, []byte(doc.Data), v)
}

func (m *MongoStore) Save(ctx context.Context, name Name, session string, v any) error {
	data, err := partialize(name, v)
	if err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{
		"store":      string(name),
		"session":    session,
		"data":       string(data),
		"updated_at": time.Now(),
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": key(name, session)}, update, opts); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, name Name, session string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key(name, session)}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "store", Value: 1}, {Key: "session", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(m.ttl.Seconds())),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

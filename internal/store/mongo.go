package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	messagesCollection = "chat_messages"
	statusCollection   = "status_checks"
)

// Mongo stores messages in a MongoDB database
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects, pings and ensures indexes
func OpenMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(dbName)}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if _, err := m.db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetName("idx_session_timestamp"),
	}); err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	if _, err := m.db.Collection(statusCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "timestamp", Value: 1}},
		Options: options.Index().SetName("idx_timestamp"),
	}); err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}
	return nil
}

func (m *Mongo) AppendMessage(ctx context.Context, rec MessageRecord) error {
	rec.Timestamp = rec.Timestamp.UTC()
	if _, err := m.db.Collection(messagesCollection).InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (m *Mongo) History(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetProjection(bson.M{"_id": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := m.db.Collection(messagesCollection).Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	messages := []MessageRecord{}
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	// newest first from the query; callers want chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (m *Mongo) AddStatusCheck(ctx context.Context, check StatusCheck) error {
	check.Timestamp = check.Timestamp.UTC()
	if _, err := m.db.Collection(statusCollection).InsertOne(ctx, check); err != nil {
		return fmt.Errorf("failed to save status check: %w", err)
	}
	return nil
}

func (m *Mongo) StatusChecks(ctx context.Context, limit int) ([]StatusCheck, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := m.db.Collection(statusCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load status checks: %w", err)
	}
	checks := []StatusCheck{}
	if err := cur.All(ctx, &checks); err != nil {
		return nil, fmt.Errorf("failed to decode status checks: %w", err)
	}
	return checks, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

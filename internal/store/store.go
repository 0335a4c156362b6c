package store

import (
	"context"
	"fmt"
	"time"

	"ChatPane/internal/config"
)

// MessageRecord is one stored chat message
type MessageRecord struct {
	ID        string    `json:"id" bson:"id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	Message   string    `json:"message" bson:"message"`
	Sender    string    `json:"sender" bson:"sender"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// StatusCheck records that a client pinged the backend
type StatusCheck struct {
	ID         string    `json:"id" bson:"id"`
	ClientName string    `json:"client_name" bson:"client_name"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

// Store persists chat messages and status checks for the backend
type Store interface {
	AppendMessage(ctx context.Context, rec MessageRecord) error
	// History returns the latest limit messages of a session in chronological order.
	// limit <= 0 returns every message.
	History(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error)
	AddStatusCheck(ctx context.Context, check StatusCheck) error
	// StatusChecks returns up to limit checks, oldest first
	StatusChecks(ctx context.Context, limit int) ([]StatusCheck, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case config.StoreMongo:
		return OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	case config.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// Package docstore persists raw conversation messages in MongoDB.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kalambet/hybridrec/internal/record"
)

// CollectionConversations holds one document per ingested message.
const CollectionConversations = "conversations"

// ErrConflict is returned when an inserted message_id already exists.
var ErrConflict = errors.New("message already stored")

// Message is the stored document shape.
type Message struct {
	MessageID  string    `bson:"message_id"`
	UserID     string    `bson:"user_id"`
	Message    string    `bson:"message"`
	Timestamp  time.Time `bson:"timestamp"`
	RunID      string    `bson:"run_id"`
	SourceFile string    `bson:"source_file,omitempty"`
}

// FromEnriched converts enriched records to documents. Embeddings are not
// stored here; they live in the vector index.
func FromEnriched(recs []record.Enriched) []Message {
	out := make([]Message, len(recs))
	for i, r := range recs {
		out[i] = Message{
			MessageID:  r.MessageID,
			UserID:     r.UserID,
			Message:    r.Message,
			Timestamp:  r.Timestamp.UTC(),
			RunID:      r.RunID,
			SourceFile: r.SourceFile,
		}
	}
	return out
}

// Store is the document store contract used by the pipeline.
type Store interface {
	EnsureIndexes(ctx context.Context) error
	InsertMessages(ctx context.Context, msgs []Message) error
	Close(ctx context.Context) error
}

// collection is the subset of *mongo.Collection the store writes through.
type collection interface {
	InsertMany(ctx context.Context, docs []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// indexCreator creates indexes on the conversations collection.
type indexCreator func(ctx context.Context, models []mongo.IndexModel) error

// MongoStore implements Store on a MongoDB database.
type MongoStore struct {
	client  *mongo.Client
	coll    collection
	indexes indexCreator
	logger  *slog.Logger
}

// Compile-time check that MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

// Connect opens a pooled MongoDB client and verifies it with a ping.
func Connect(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	coll := client.Database(database).Collection(CollectionConversations)
	return &MongoStore{
		client: client,
		coll:   coll,
		indexes: func(ctx context.Context, models []mongo.IndexModel) error {
			_, err := coll.Indexes().CreateMany(ctx, models)
			return err
		},
		logger: slog.Default().With("component", "docstore"),
	}, nil
}

// indexModels lists the indexes on conversations: user_id, timestamp and a
// unique message_id.
func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
}

// EnsureIndexes creates the collection indexes. Existing identical indexes
// are left alone by MongoDB.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if err := s.indexes(ctx, indexModels()); err != nil {
		return fmt.Errorf("creating conversation indexes: %w", err)
	}
	return nil
}

// InsertMessages inserts msgs in order as one batch. The first duplicate
// message_id stops the batch and is reported as ErrConflict.
func (s *MongoStore) InsertMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(msgs))
	for i := range msgs {
		docs[i] = msgs[i]
	}

	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return fmt.Errorf("inserting messages: %w", err)
	}
	s.logger.Debug("messages stored", "count", len(docs))
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

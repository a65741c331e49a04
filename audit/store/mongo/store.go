// Package mongo is the document-store audit.Store. Documents are ordered by created_at
// with the ObjectID as tie-break.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/godamri/helix-activity/audit"
)

type Config struct {
	URI        string        `yaml:"uri" envconfig:"MONGO_URI"`
	Database   string        `yaml:"database" envconfig:"MONGO_DATABASE" validate:"required"`
	Collection string        `yaml:"collection" envconfig:"MONGO_COLLECTION" validate:"required"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"MONGO_TIMEOUT" validate:"gt=0"`
}

func (c *Config) SetDefaults() {
	c.URI = "mongodb://localhost:27017"
	c.Database = "activity"
	c.Collection = "audit_logs"
	c.Timeout = 5 * time.Second
}

// Connect opens a client and pings the primary.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.URI).
		SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, nil
}

type document struct {
	ObjectID       primitive.ObjectID `bson:"_id,omitempty"`
	EntryID        string             `bson:"entry_id"`
	Action         string             `bson:"action"`
	Summary        string             `bson:"summary"`
	ActorID        string             `bson:"actor_id,omitempty"`
	ActorEmail     string             `bson:"actor_email,omitempty"`
	TargetID       string             `bson:"target_id,omitempty"`
	TargetType     string             `bson:"target_type,omitempty"`
	Metadata       map[string]any     `bson:"metadata,omitempty"`
	IdempotencyKey string             `bson:"idempotency_key,omitempty"`
	CreatedAt      int64              `bson:"created_at"`
}

func (d document) entry() audit.Entry {
	return audit.Entry{
		ID:         d.EntryID,
		Action:     d.Action,
		Summary:    d.Summary,
		ActorID:    d.ActorID,
		ActorEmail: d.ActorEmail,
		TargetID:   d.TargetID,
		TargetType: d.TargetType,
		Metadata:   d.Metadata,
		CreatedAt:  d.CreatedAt,
	}
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

type Store struct {
	coll  *mongo.Collection
	clock *audit.Clock
}

// New ensures indexes and seeds the clock from the newest stored document.
func New(ctx context.Context, coll *mongo.Collection) (*Store, error) {
	s := &Store{coll: coll, clock: audit.NewClock()}
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	var latest document
	err := coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(newestFirst)).Decode(&latest)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return nil, &audit.StorageError{Op: "init", Err: err}
	default:
		s.clock.Observe(latest.CreatedAt)
	}
	return s, nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: newestFirst},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "entry_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "idempotency_key", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	})
	if err != nil {
		return &audit.StorageError{Op: "ensure indexes", Err: err}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, in audit.EntryInput) (audit.Entry, error) {
	if err := in.Validate(); err != nil {
		return audit.Entry{}, err
	}

	doc := document{
		ObjectID:       primitive.NewObjectID(),
		EntryID:        uuid.NewString(),
		Action:         in.Action,
		Summary:        in.Summary,
		ActorID:        in.ActorID,
		ActorEmail:     in.ActorEmail,
		TargetID:       in.TargetID,
		TargetType:     in.TargetType,
		Metadata:       in.Metadata,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      s.clock.Next(),
	}

	_, err := s.coll.InsertOne(ctx, doc)
	if err != nil && in.IdempotencyKey != "" && mongo.IsDuplicateKeyError(err) {
		var existing document
		if ferr := s.coll.FindOne(ctx, bson.D{{Key: "idempotency_key", Value: in.IdempotencyKey}}).Decode(&existing); ferr != nil {
			return audit.Entry{}, &audit.StorageError{Op: "append", Err: ferr}
		}
		return existing.entry(), nil
	}
	if err != nil {
		return audit.Entry{}, &audit.StorageError{Op: "append", Err: err}
	}
	return doc.entry(), nil
}

func (s *Store) Query(ctx context.Context, f audit.Filter) (audit.Page, error) {
	limit := audit.ClampLimit(f.Limit)

	filter := bson.D{}
	if f.Action != "" {
		filter = append(filter, bson.E{Key: "action", Value: f.Action})
	}
	if f.After != nil {
		filter = append(filter, bson.E{Key: "created_at", Value: bson.D{{Key: "$lt", Value: *f.After}}})
	}

	cur, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(newestFirst).
		SetLimit(int64(limit+1)))
	if err != nil {
		return audit.Page{}, &audit.StorageError{Op: "query", Err: err}
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return audit.Page{}, &audit.StorageError{Op: "query", Err: err}
	}

	entries := make([]audit.Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, d.entry())
	}
	return audit.BuildPage(entries, limit), nil
}

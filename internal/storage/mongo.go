package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/replydesk/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStorage keeps claims in the "assignments" collection. A unique index on
// (thread_id, message_id) turns a losing upsert into a duplicate-key error,
// which is how a competing active claim is detected.
type MongoStorage struct {
	client      *mongo.Client
	assignments *mongo.Collection
	messages    *mongo.Collection
}

func NewMongoStorage(ctx context.Context, uri, dbName string, logger *zap.Logger) (*MongoStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error pinging mongo: %w", err)
	}

	s := NewMongoStorageFromDB(client.Database(dbName))
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error creating indexes: %w", err)
	}

	logger.Info("Connected to MongoDB", zap.String("database", dbName))
	return s, nil
}

// NewMongoStorageFromDB wraps an existing database handle. Close is a no-op
// for stores built this way; the caller owns the client.
func NewMongoStorageFromDB(db *mongo.Database) *MongoStorage {
	return &MongoStorage{
		assignments: db.Collection("assignments"),
		messages:    db.Collection("messages"),
	}
}

// EnsureIndexes creates the claim key index and the sweep/listing indexes.
func (s *MongoStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.assignments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_assignments_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "assigned_at", Value: 1}},
			Options: options.Index().SetName("idx_assignments_assigned_at"),
		},
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("idx_messages_thread"),
	})
	return err
}

func keyFilter(key models.Key) bson.M {
	return bson.M{"thread_id": key.ThreadID, "message_id": key.MessageID}
}

func assignmentUpdate(a models.Assignment) bson.M {
	return bson.M{"$set": bson.M{
		"assignment_id": a.ID,
		"assigned_to":   a.AssignedTo,
		"assigned_at":   a.AssignedAt.UTC(),
		"is_active":     true,
	}}
}

func (s *MongoStorage) Claim(ctx context.Context, a models.Assignment) (models.Assignment, bool, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		filter := keyFilter(a.Key())
		filter["$or"] = bson.A{
			bson.M{"is_active": false},
			bson.M{"assigned_to": a.AssignedTo},
		}
		opts := options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After)

		var stored models.Assignment
		err := s.assignments.FindOneAndUpdate(ctx, filter, assignmentUpdate(a), opts).Decode(&stored)
		if err == nil {
			stored.AssignedAt = stored.AssignedAt.UTC()
			return stored, true, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return models.Assignment{}, false, fmt.Errorf("error claiming %s: %w", a.Key(), err)
		}

		current, err := s.Get(ctx, a.Key())
		if err != nil {
			return models.Assignment{}, false, err
		}
		if current != nil && current.IsActive && current.AssignedTo != a.AssignedTo {
			return *current, false, nil
		}
	}
	return models.Assignment{}, false, fmt.Errorf("error claiming %s: slot kept changing", a.Key())
}

func (s *MongoStorage) Replace(ctx context.Context, a models.Assignment) (*models.Assignment, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var previous models.Assignment
	err := s.assignments.FindOneAndUpdate(ctx, keyFilter(a.Key()), assignmentUpdate(a), opts).Decode(&previous)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error replacing claim %s: %w", a.Key(), err)
	}
	previous.AssignedAt = previous.AssignedAt.UTC()
	return &previous, nil
}

func (s *MongoStorage) Release(ctx context.Context, key models.Key) error {
	filter := keyFilter(key)
	filter["is_active"] = true
	if _, err := s.assignments.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"is_active": false}}); err != nil {
		return fmt.Errorf("error releasing claim %s: %w", key, err)
	}
	return nil
}

func (s *MongoStorage) Get(ctx context.Context, key models.Key) (*models.Assignment, error) {
	var a models.Assignment
	err := s.assignments.FindOne(ctx, keyFilter(key)).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading claim %s: %w", key, err)
	}
	a.AssignedAt = a.AssignedAt.UTC()
	return &a, nil
}

func (s *MongoStorage) ActiveByThread(ctx context.Context, threadID string) ([]models.Assignment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "assigned_at", Value: -1}, {Key: "message_id", Value: 1}})
	cur, err := s.assignments.Find(ctx, bson.M{"thread_id": threadID, "is_active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying claims: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.Assignment
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding claims: %w", err)
	}
	for i := range out {
		out[i].AssignedAt = out[i].AssignedAt.UTC()
	}
	return out, nil
}

func (s *MongoStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.assignments.DeleteMany(ctx, bson.M{"assigned_at": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("error deleting expired claims: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStorage) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("error appending message: %w", err)
	}
	return nil
}

func (s *MongoStorage) ListMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.messages.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer cur.Close(ctx)

	var msgs []*models.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("error decoding messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MongoStorage) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

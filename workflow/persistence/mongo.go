package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/flowcanvas/workflow"
)

// DefaultMongoCollection is used when no collection name is configured.
const DefaultMongoCollection = "workflows"

// mongoDocument mirrors WorkflowRecord for MongoDB.
type mongoDocument struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	Type       string    `bson:"type"`
	NodeCount  int       `bson:"node_count"`
	Definition string    `bson:"definition"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toDocument(w *workflow.CompiledWorkflow, now time.Time) (*mongoDocument, error) {
	data, err := w.ToJSON()
	if err != nil {
		return nil, err
	}
	return &mongoDocument{
		ID:         w.ID,
		Name:       w.Name,
		Type:       string(w.Type),
		NodeCount:  len(w.Nodes),
		Definition: string(data),
		UpdatedAt:  now.UTC(),
	}, nil
}

func (d *mongoDocument) workflow() (*workflow.CompiledWorkflow, error) {
	w, err := workflow.FromJSON([]byte(d.Definition))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", d.ID, err)
	}
	return w, nil
}

// MongoStore keeps one document per workflow keyed by workflow id.
type MongoStore struct {
	coll   *mongo.Collection
	closed atomic.Bool
}

// NewMongoStore uses collection name in db; the caller owns the client.
func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultMongoCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// ConnectMongo opens a client for uri and pings it.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// Save implements workflow.Store.
func (s *MongoStore) Save(ctx context.Context, w *workflow.CompiledWorkflow) error {
	if err := checkWorkflow(w); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	doc, err := toDocument(w, time.Now())
	if err != nil {
		return err
	}
	_, err = s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: w.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// Load implements workflow.Store.
func (s *MongoStore) Load(ctx context.Context, id string) (*workflow.CompiledWorkflow, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var doc mongoDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return doc.workflow()
}

// List implements workflow.Catalog.
func (s *MongoStore) List(ctx context.Context) ([]*workflow.CompiledWorkflow, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	var docs []mongoDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	out := make([]*workflow.CompiledWorkflow, 0, len(docs))
	for i := range docs {
		w, err := docs[i].workflow()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Delete implements workflow.Catalog.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Store.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.coll.Database().Client().Ping(ctx, nil)
}

// Close marks the store closed; the client stays with its owner.
func (s *MongoStore) Close() error {
	s.closed.Store(true)
	return nil
}

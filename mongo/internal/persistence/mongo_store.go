// Package persistence adapts the engine's store interfaces onto
// MongoDB collections, grounded on
// mongo/internal/persistence/mongo_store.go's document shape and
// UpdateByID-based optimistic concurrency.
package persistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// MongoStore is a store.CheckpointStore + store.DedupStore +
// store.ResultStore backed by three MongoDB collections: checkpoints,
// dedup facts, and persisted results.
type MongoStore struct {
	client      *mongo.Client
	checkpoints *mongo.Collection
	dedup       *mongo.Collection
	results     *mongo.Collection
}

var (
	_ store.CheckpointStore = (*MongoStore)(nil)
	_ store.DedupStore      = (*MongoStore)(nil)
	_ store.ResultStore     = (*MongoStore)(nil)
)

// NewMongoStore creates a MongoStore. dbName defaults to "flowmesh" if
// empty. client must be connected to a replica set (even a single-node
// one) since Upsert opens a multi-document session transaction whenever
// a checkpoint write carries pending dedup facts.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "flowmesh"
	}
	db := client.Database(dbName)
	return &MongoStore{
		client:      client,
		checkpoints: db.Collection("checkpoints"),
		dedup:       db.Collection("dedup_facts"),
		results:     db.Collection("results"),
	}
}

type checkpointDoc struct {
	ID         string `bson:"_id"`
	Status     string `bson:"status"`
	NumCommits uint64 `bson:"num_commits"`
	Blob       []byte `bson:"blob"`
}

func (s *MongoStore) Get(ctx context.Context, id flow.FlowId) (flow.Checkpoint, error) {
	var doc checkpointDoc
	err := s.checkpoints.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return flow.Checkpoint{}, flow.ErrNotFound
		}
		return flow.Checkpoint{}, err
	}
	return store.DecodeCheckpoint(doc.Blob)
}

func (s *MongoStore) Upsert(ctx context.Context, cp flow.Checkpoint) error {
	facts := cp.PendingDeduplicationFacts
	cp.PendingDeduplicationFacts = nil
	blob, err := store.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	if len(facts) == 0 {
		return s.upsertCheckpoint(ctx, cp, blob)
	}

	// A pending checkpoint write and its riding dedup facts go into the
	// same session transaction: a crash between two separate writes
	// would otherwise leave the checkpoint durably advanced past a
	// message whose delivery was never recorded.
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if err := s.upsertCheckpoint(sc, cp, blob); err != nil {
			return nil, err
		}
		return nil, s.PersistFacts(sc, facts)
	})
	return err
}

func (s *MongoStore) upsertCheckpoint(ctx context.Context, cp flow.Checkpoint, blob []byte) error {
	doc := checkpointDoc{
		ID:         cp.Id.String(),
		Status:     string(cp.Status),
		NumCommits: cp.CheckpointState.NumCommits,
		Blob:       blob,
	}

	// The filter matches either no existing document (the upsert then
	// inserts) or one whose num_commits is strictly behind what we're
	// writing, giving the same guarantee the SQL stores get by reading
	// num_commits inside their upsert transaction and refusing a write
	// that does not advance it. If a document exists but fails the
	// $lt check, the filter matches nothing and the upsert tries to
	// insert a duplicate _id instead, which Mongo rejects.
	filter := bson.M{
		"_id":         doc.ID,
		"num_commits": bson.M{"$lt": doc.NumCommits},
	}
	upsertFilter := bson.M{"_id": doc.ID}

	res, err := s.checkpoints.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return flow.ErrStaleVersion
		}
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		// Neither a match nor an upsert, and no duplicate-key error was
		// reported: if a document with this _id exists, its num_commits
		// did not advance, so the write is stale.
		if count, cerr := s.checkpoints.CountDocuments(ctx, upsertFilter); cerr == nil && count > 0 {
			return flow.ErrStaleVersion
		}
	}
	return nil
}

func (s *MongoStore) Remove(ctx context.Context, id flow.FlowId, _ bool) error {
	_, err := s.checkpoints.DeleteOne(ctx, bson.M{"_id": id.String()})
	return err
}

func (s *MongoStore) UpdateStatus(ctx context.Context, id flow.FlowId, status flow.Status) error {
	res, err := s.checkpoints.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return flow.ErrNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, filter store.StatusFilter) ([]flow.Checkpoint, error) {
	bfilter := bson.M{}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}

	cur, err := s.checkpoints.Find(ctx, bfilter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []flow.Checkpoint
	for cur.Next(ctx) {
		var doc checkpointDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		cp, err := store.DecodeCheckpoint(doc.Blob)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, cur.Err()
}

type dedupDoc struct {
	ID string `bson:"_id"`
}

func (s *MongoStore) PersistFacts(ctx context.Context, ids []flow.DedupId) error {
	if len(ids) == 0 {
		return nil
	}
	docs := make([]any, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, dedupDoc{ID: id.String()})
	}
	_, err := s.dedup.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return nil
}

func (s *MongoStore) IsDuplicate(ctx context.Context, id flow.DedupId) (bool, error) {
	err := s.dedup.FindOne(ctx, bson.M{"_id": id.String()}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type resultDoc struct {
	ID   string `bson:"_id"`
	Blob []byte `bson:"blob"`
}

func (s *MongoStore) SaveResult(ctx context.Context, clientId string, outcome flow.FlowOutcome) error {
	blob, err := store.EncodeValue(outcome)
	if err != nil {
		return err
	}
	_, err = s.results.UpdateByID(ctx, clientId, bson.M{"$set": resultDoc{ID: clientId, Blob: blob}}, options.UpdateOne().SetUpsert(true))
	return err
}

func (s *MongoStore) GetResult(ctx context.Context, clientId string) (flow.FlowOutcome, error) {
	var doc resultDoc
	err := s.results.FindOne(ctx, bson.M{"_id": clientId}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return flow.FlowOutcome{}, flow.ErrNotFound
		}
		return flow.FlowOutcome{}, err
	}
	v, err := store.DecodeValue(doc.Blob)
	if err != nil {
		return flow.FlowOutcome{}, err
	}
	out, _ := v.(flow.FlowOutcome)
	return out, nil
}

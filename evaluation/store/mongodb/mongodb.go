//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package mongodb provides the MongoDB-backed Store. One database holds four
// collections: status, results, metrics and config, each keyed by process ID
// and, where applicable, model name.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evalkit/evalkit/evaluation/store"
)

// Collection names.
const (
	collStatus  = "status"
	collResults = "results"
	collMetrics = "metrics"
	collConfig  = "config"
)

const defaultDatabase = "evaluation"

// Options holds the configuration for the MongoDB store.
type Options struct {
	URI      string
	Database string
	// Client overrides the connection entirely; URI is ignored when set.
	Client *mongo.Client
}

// Option configures the MongoDB store.
type Option func(*Options)

// WithURI sets the connection string.
func WithURI(uri string) Option {
	return func(o *Options) { o.URI = uri }
}

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *Options) { o.Database = name }
}

// WithClient injects an existing mongo client.
func WithClient(c *mongo.Client) Option {
	return func(o *Options) { o.Client = c }
}

// Store is the MongoDB implementation of store.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	// ownsClient marks whether Close should disconnect the client.
	ownsClient bool
}

// New connects to MongoDB and verifies the connection.
func New(ctx context.Context, opt ...Option) (*Store, error) {
	opts := &Options{Database: defaultDatabase}
	for _, o := range opt {
		o(opts)
	}
	if opts.Client != nil {
		return &Store{client: opts.Client, db: opts.Client.Database(opts.Database)}, nil
	}
	if opts.URI == "" {
		return nil, errors.New("mongodb: URI is empty")
	}
	client, err := mongo.Connect(ctx, mongoopts.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect failed: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb: ping failed: %w", err)
	}
	return &Store{client: client, db: client.Database(opts.Database), ownsClient: true}, nil
}

// SaveStatus upserts the status document keyed by process ID.
func (s *Store) SaveStatus(ctx context.Context, status *store.ProcessStatus) error {
	return s.upsert(ctx, collStatus, bson.M{"process_id": status.ProcessID}, status)
}

// GetStatus returns the status for the process, or store.ErrNotFound.
func (s *Store) GetStatus(ctx context.Context, processID string) (*store.ProcessStatus, error) {
	var status store.ProcessStatus
	if err := s.findOne(ctx, collStatus, bson.M{"process_id": processID}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SaveResult upserts the result document keyed by process ID and model.
func (s *Store) SaveResult(ctx context.Context, result *store.ModelResult) error {
	filter := bson.M{"process_id": result.ProcessID, "model_name": result.ModelName}
	return s.upsert(ctx, collResults, filter, result)
}

// ListResults returns all model results for the process, insertion order.
func (s *Store) ListResults(ctx context.Context, processID string) ([]*store.ModelResult, error) {
	var results []*store.ModelResult
	if err := s.findAll(ctx, collResults, bson.M{"process_id": processID}, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// ListResultsByUser returns one page of the user's results, newest first,
// plus the total count.
func (s *Store) ListResultsByUser(ctx context.Context, userID string, page, pageSize int) ([]*store.ModelResult, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	filter := bson.M{"user_id": userID}
	coll := s.db.Collection(collResults)
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb: count %s: %w", collResults, err)
	}
	findOpts := mongoopts.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))
	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb: find %s: %w", collResults, err)
	}
	defer cursor.Close(ctx)
	var results []*store.ModelResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, 0, fmt.Errorf("mongodb: decode %s: %w", collResults, err)
	}
	return results, total, nil
}

// SaveMetrics upserts the metrics document keyed by process ID and model.
func (s *Store) SaveMetrics(ctx context.Context, record *store.MetricsRecord) error {
	filter := bson.M{"process_id": record.ProcessID, "model_name": record.ModelName}
	return s.upsert(ctx, collMetrics, filter, record)
}

// ListMetrics returns all metrics records for the process.
func (s *Store) ListMetrics(ctx context.Context, processID string) ([]*store.MetricsRecord, error) {
	var records []*store.MetricsRecord
	if err := s.findAll(ctx, collMetrics, bson.M{"process_id": processID}, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveConfig stores the configuration a process was started with.
func (s *Store) SaveConfig(ctx context.Context, record *store.ConfigRecord) error {
	return s.upsert(ctx, collConfig, bson.M{"process_id": record.ProcessID}, record)
}

// GetConfig returns the configuration for the process, or store.ErrNotFound.
func (s *Store) GetConfig(ctx context.Context, processID string) (*store.ConfigRecord, error) {
	var record store.ConfigRecord
	if err := s.findOne(ctx, collConfig, bson.M{"process_id": processID}, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Close disconnects the client when the store owns it.
func (s *Store) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) upsert(ctx context.Context, coll string, filter bson.M, doc any) error {
	_, err := s.db.Collection(coll).UpdateOne(ctx, filter,
		bson.M{"$set": doc}, mongoopts.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb: upsert %s: %w", coll, err)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, coll string, filter bson.M, out any) error {
	err := s.db.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("mongodb: %s: %w", coll, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("mongodb: find %s: %w", coll, err)
	}
	return nil
}

func (s *Store) findAll(ctx context.Context, coll string, filter bson.M, out any) error {
	cursor, err := s.db.Collection(coll).Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("mongodb: find %s: %w", coll, err)
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("mongodb: decode %s: %w", coll, err)
	}
	return nil
}

package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"livingworld/server/internal/config"
)

// Point is a vector with its payload
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchResult is one scored match
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Filter requires exact keyword matches on payload fields
type Filter map[string]string

// PointStore is the vector index behind the memory store
type PointStore interface {
	Upsert(ctx context.Context, points []*Point) error
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]*SearchResult, error)
	Close() error
}

// QdrantStore keeps points in one qdrant collection
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	vectorSize int
	log        logrus.FieldLogger
}

// NewQdrantStore connects to qdrant over gRPC
func NewQdrantStore(cfg config.QdrantConfig, log logrus.FieldLogger) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		log:        log.WithField("component", "qdrant"),
	}, nil
}

// InitializeCollection creates the collection on first use
func (q *QdrantStore) InitializeCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}
	q.log.WithField("collection", q.collection).Info("created qdrant collection")
	return nil
}

// Upsert writes points and waits for them to be indexed
func (q *QdrantStore) Upsert(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return fmt.Errorf("invalid payload for point %s: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns the closest points that satisfy the filter
func (q *QdrantStore) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]*SearchResult, error) {
	lim := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.collection, err)
	}
	results := make([]*SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, &SearchResult{
			ID:      p.GetId().GetUuid(),
			Score:   p.GetScore(),
			Payload: payloadToMap(p.GetPayload()),
		})
	}
	return results, nil
}

// Close closes the gRPC connection
func (q *QdrantStore) Close() error {
	return q.client.Close()
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}

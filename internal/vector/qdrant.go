package vector

import (
	"context"
	"fmt"
	"log/slog"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Named vectors inside the collection.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantStore implements Store against a Qdrant instance over gRPC.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

var _ Store = (*QdrantStore)(nil)

// NewQdrant connects to a Qdrant instance.
func NewQdrant(host string, port int, collection string) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureSchema creates the collection when absent: a named dense vector with
// dot-product distance plus a named sparse vector, with payload indexes on
// the filterable fields. When the collection exists, the dense dimension and
// metric must match exactly.
func (s *QdrantStore) EnsureSchema(ctx context.Context, dim int) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return fmt.Errorf("qdrant collection info: %w", err)
		}
		return s.createCollection(ctx, dim)
	}

	params := info.GetResult().GetConfig().GetParams()
	dense := params.GetVectorsConfig().GetParamsMap().GetMap()[denseVectorName]
	if dense == nil {
		return fmt.Errorf("%w: collection %q has no %q vector", ErrSchemaMismatch, s.collection, denseVectorName)
	}
	if dense.GetSize() != uint64(dim) {
		return fmt.Errorf("%w: collection %q is %d-dimensional, model needs %d",
			ErrSchemaMismatch, s.collection, dense.GetSize(), dim)
	}
	if dense.GetDistance() != pb.Distance_Dot {
		return fmt.Errorf("%w: collection %q uses %s distance, hybrid scoring needs %s",
			ErrSchemaMismatch, s.collection, dense.GetDistance(), pb.Distance_Dot)
	}
	if params.GetSparseVectorsConfig().GetMap()[sparseVectorName] == nil {
		return fmt.Errorf("%w: collection %q has no %q vector", ErrSchemaMismatch, s.collection, sparseVectorName)
	}
	return nil
}

func (s *QdrantStore) createCollection(ctx context.Context, dim int) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{
					Map: map[string]*pb.VectorParams{
						denseVectorName: {Size: uint64(dim), Distance: pb.Distance_Dot},
					},
				},
			},
		},
		SparseVectorsConfig: &pb.SparseVectorConfig{
			Map: map[string]*pb.SparseVectorParams{
				sparseVectorName: {},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}

	keyword := pb.FieldType_FieldTypeKeyword
	integer := pb.FieldType_FieldTypeInteger
	indexes := []struct {
		field string
		ftype *pb.FieldType
	}{
		{"namespace", &keyword},
		{"doc_id", &keyword},
		{"level", &integer},
	}
	for _, idx := range indexes {
		_, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      idx.field,
			FieldType:      idx.ftype,
		})
		if err != nil {
			return fmt.Errorf("qdrant index %s: %w", idx.field, err)
		}
	}

	slog.Info("created collection", "collection", s.collection, "dimension", dim)
	return nil
}

// Upsert writes records with both vector representations. Point IDs are
// derived from chunk IDs, so identical chunks overwrite in place.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, rec := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(rec.ID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vectors{
					Vectors: &pb.NamedVectors{
						Vectors: map[string]*pb.Vector{
							denseVectorName: {Data: rec.Dense},
							sparseVectorName: {
								Data:    rec.Sparse.Values,
								Indices: &pb.SparseIndices{Data: rec.Sparse.Indices},
							},
						},
					},
				},
			},
			Payload: payloadFrom(rec),
		}
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// DeleteByDoc removes every point of a document, regardless of namespace.
func (s *QdrantStore) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{keywordCondition("doc_id", docID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete doc %s: %w", docID, err)
	}
	return nil
}

// Query runs a hybrid search: dense and sparse prefetches fused with
// reciprocal rank fusion, filtered to one namespace and granularity level.
// An empty sparse vector degrades to dense-only search.
func (s *QdrantStore) Query(ctx context.Context, q Query) ([]Match, error) {
	filter := &pb.Filter{
		Must: []*pb.Condition{
			keywordCondition("namespace", q.Namespace),
			integerCondition("level", int64(q.Level)),
		},
	}

	limit := uint64(q.TopK)
	denseName := denseVectorName
	sparseName := sparseVectorName

	req := &pb.QueryPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	denseQuery := &pb.Query{
		Variant: &pb.Query_Nearest{
			Nearest: &pb.VectorInput{
				Variant: &pb.VectorInput_Dense{Dense: &pb.DenseVector{Data: q.Dense}},
			},
		},
	}

	if q.Sparse.IsEmpty() {
		req.Query = denseQuery
		req.Using = &denseName
	} else {
		req.Prefetch = []*pb.PrefetchQuery{
			{Query: denseQuery, Using: &denseName, Filter: filter, Limit: &limit},
			{
				Query: &pb.Query{
					Variant: &pb.Query_Nearest{
						Nearest: &pb.VectorInput{
							Variant: &pb.VectorInput_Sparse{
								Sparse: &pb.SparseVector{
									Values:  q.Sparse.Values,
									Indices: q.Sparse.Indices,
								},
							},
						},
					},
				},
				Using:  &sparseName,
				Filter: filter,
				Limit:  &limit,
			},
		}
		req.Query = &pb.Query{Variant: &pb.Query_Fusion{Fusion: pb.Fusion_RRF}}
	}

	resp, err := s.points.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		matches[i] = Match{
			ID:    pt.GetPayload()["chunk_id"].GetStringValue(),
			Score: pt.GetScore(),
			Meta:  metaFrom(pt.GetPayload()),
		}
	}
	return matches, nil
}

// Health pings the instance by listing collections.
func (s *QdrantStore) Health(ctx context.Context) error {
	_, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func payloadFrom(rec Record) map[string]*pb.Value {
	return map[string]*pb.Value{
		"chunk_id":        stringValue(rec.ID),
		"namespace":       stringValue(rec.Meta.Namespace),
		"text":            stringValue(rec.Meta.Text),
		"source":          stringValue(rec.Meta.Source),
		"doc_id":          stringValue(rec.Meta.DocID),
		"level":           integerValue(int64(rec.Meta.Level)),
		"seq_index":       integerValue(int64(rec.Meta.SeqIndex)),
		"parent_chunk_id": stringValue(rec.Meta.ParentChunkID),
		"subject":         stringValue(rec.Meta.Subject),
		"file_path":       stringValue(rec.Meta.FilePath),
	}
}

func metaFrom(payload map[string]*pb.Value) Meta {
	return Meta{
		Namespace:     payload["namespace"].GetStringValue(),
		Text:          payload["text"].GetStringValue(),
		Source:        payload["source"].GetStringValue(),
		DocID:         payload["doc_id"].GetStringValue(),
		Level:         int(payload["level"].GetIntegerValue()),
		SeqIndex:      int(payload["seq_index"].GetIntegerValue()),
		ParentChunkID: payload["parent_chunk_id"].GetStringValue(),
		Subject:       payload["subject"].GetStringValue(),
		FilePath:      payload["file_path"].GetStringValue(),
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func integerValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func integerCondition(key string, value int64) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: value}},
			},
		},
	}
}

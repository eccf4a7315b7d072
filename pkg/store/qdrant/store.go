package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

const (
	defaultCollection = "document_chunks"
	scrollPageSize    = 256
	searchLimitMax    = 1000
)

// Store is the qdrant flavor of the VectorStore contract. Sources are a
// payload field rather than physical partitions; the replace-on-reingest
// semantics come from a filtered delete before each upsert.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimensions  uint64
	logger      *slog.Logger

	mu      sync.Mutex
	ensured bool
}

func New(url, collection string, dimensions int, timeout time.Duration) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: qdrant store requires a url", domain.ErrConfigurationError)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: qdrant store requires positive dimensions, got %d",
			domain.ErrConfigurationError, dimensions)
	}
	if collection == "" {
		collection = defaultCollection
	}

	addr := strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://")
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to qdrant: %v", domain.ErrVectorStoreFailed, err)
	}

	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dimensions:  uint64(dimensions),
		logger:      log.WithModule("qdrant"),
	}, nil
}

// EnsureReady creates the collection with cosine distance when missing.
func (s *Store) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	listResp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", domain.ErrVectorStoreFailed, err)
	}
	for _, col := range listResp.Collections {
		if col.Name == s.collection {
			s.ensured = true
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.dimensions,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", domain.ErrVectorStoreFailed, s.collection, err)
	}

	s.logger.Info("collection ready", "collection", s.collection, "dimensions", s.dimensions)
	s.ensured = true
	return nil
}

// pointID derives a stable UUID for (source, filename, index) so re-ingests
// overwrite rather than duplicate.
func pointID(source, filename string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte(fmt.Sprintf("%s:%s:%d", source, filename, index))).String()
}

func documentFilter(source, filename string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			fieldMatch("source", source),
			fieldMatch("filename", filename),
		},
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// Store deletes the document's existing points, then upserts the new set.
func (s *Store) Store(ctx context.Context, source, filename string, chunks []domain.EmbeddedChunk, documentID string) (int, error) {
	if filename == "" {
		return 0, fmt.Errorf("%w: filename is empty", domain.ErrInvalidInput)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no chunks to store", domain.ErrInvalidInput)
	}
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk.Content) == "" {
			return 0, fmt.Errorf("%w: chunk %d has no content", domain.ErrInvalidInput, i)
		}
		if len(chunk.Embedding) == 0 {
			return 0, fmt.Errorf("%w: chunk %d has no embedding", domain.ErrInvalidInput, i)
		}
	}

	if _, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: documentFilter(source, filename),
			},
		},
	}); err != nil {
		return 0, fmt.Errorf("%w: delete previous points: %v", domain.ErrVectorStoreFailed, err)
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		payload := map[string]*pb.Value{
			"source":      {Kind: &pb.Value_StringValue{StringValue: source}},
			"filename":    {Kind: &pb.Value_StringValue{StringValue: filename}},
			"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(chunk.Index)}},
			"content":     {Kind: &pb.Value_StringValue{StringValue: chunk.Content}},
		}
		if documentID != "" {
			payload["document_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: documentID}}
		}
		for k, v := range chunk.Metadata {
			if _, taken := payload[k]; taken {
				continue
			}
			payload[k] = payloadValue(v)
		}

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(source, filename, chunk.Index)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: chunk.Embedding},
				},
			},
			Payload: payload,
		})
	}

	wait := true
	if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	}); err != nil {
		return 0, fmt.Errorf("%w: upsert points: %v", domain.ErrVectorStoreFailed, err)
	}

	s.logger.Debug("stored document points",
		"source", source, "filename", filename, "points", len(points))
	return len(points), nil
}

func payloadValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

// Delete removes all points for (source, filename). Qdrant does not report
// how many points a filtered delete removed, so the count comes from a
// preceding scroll.
func (s *Store) Delete(ctx context.Context, source, filename string) (int, error) {
	existing, err := s.GetDocumentChunks(ctx, source, filename)
	if err != nil {
		return 0, err
	}

	if _, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: documentFilter(source, filename),
			},
		},
	}); err != nil {
		return 0, fmt.Errorf("%w: delete points: %v", domain.ErrVectorStoreFailed, err)
	}
	return len(existing), nil
}

// Search runs similarity search; with cosine distance qdrant scores are
// already 1 - distance.
func (s *Store) Search(ctx context.Context, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if opts.Limit < 1 || opts.Limit > searchLimitMax {
		return nil, fmt.Errorf("%w: search limit must be in [1, %d], got %d",
			domain.ErrInvalidInput, searchLimitMax, opts.Limit)
	}

	var filter *pb.Filter
	var conditions []*pb.Condition
	if len(opts.Sources) > 0 {
		should := make([]*pb.Condition, 0, len(opts.Sources))
		for _, source := range opts.Sources {
			should = append(should, fieldMatch("source", source))
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{Should: should}},
		})
	}
	for k, v := range opts.MetadataFilter {
		if str, ok := v.(string); ok {
			conditions = append(conditions, fieldMatch(k, str))
		}
	}
	if len(conditions) > 0 {
		filter = &pb.Filter{Must: conditions}
	}

	limit := uint64(opts.Limit)
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          limit,
		Filter:         filter,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrVectorStoreFailed, err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.Result))
	for _, point := range resp.Result {
		hit := hitFromPayload(point.Payload)
		hit.Score = float64(point.Score)
		hits = append(hits, hit)
	}
	return hits, nil
}

func hitFromPayload(payload map[string]*pb.Value) domain.SearchHit {
	hit := domain.SearchHit{Metadata: make(map[string]any)}
	for k, v := range payload {
		switch k {
		case "source":
			hit.Source = v.GetStringValue()
		case "filename":
			hit.Filename = v.GetStringValue()
		case "chunk_index":
			hit.ChunkIndex = int(v.GetIntegerValue())
		case "content":
			hit.Content = v.GetStringValue()
		default:
			hit.Metadata[k] = goValue(v)
		}
	}
	return hit
}

func goValue(v *pb.Value) any {
	switch kind := v.Kind.(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}

// GetSources aggregates distinct source payload values by scrolling.
func (s *Store) GetSources(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.scroll(ctx, nil, func(point *pb.RetrievedPoint) {
		if source := point.Payload["source"].GetStringValue(); source != "" {
			seen[source] = true
		}
	})
	if err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(seen))
	for source := range seen {
		sources = append(sources, source)
	}
	return sources, nil
}

// ListFilenames enumerates the distinct documents under a source.
func (s *Store) ListFilenames(ctx context.Context, source string) ([]string, error) {
	seen := make(map[string]bool)
	filter := &pb.Filter{Must: []*pb.Condition{fieldMatch("source", source)}}
	err := s.scroll(ctx, filter, func(point *pb.RetrievedPoint) {
		if filename := point.Payload["filename"].GetStringValue(); filename != "" {
			seen[filename] = true
		}
	})
	if err != nil {
		return nil, err
	}

	filenames := make([]string, 0, len(seen))
	for filename := range seen {
		filenames = append(filenames, filename)
	}
	return filenames, nil
}

// GetStats counts points per source by scrolling the collection.
func (s *Store) GetStats(ctx context.Context) (*domain.StoreStats, error) {
	stats := &domain.StoreStats{Sources: make(map[string]int64)}
	err := s.scroll(ctx, nil, func(point *pb.RetrievedPoint) {
		stats.Sources[point.Payload["source"].GetStringValue()]++
		stats.TotalRows++
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetDocumentChunks returns a document's points ordered by chunk index.
func (s *Store) GetDocumentChunks(ctx context.Context, source, filename string) ([]domain.StoredChunk, error) {
	var chunks []domain.StoredChunk
	err := s.scroll(ctx, documentFilter(source, filename), func(point *pb.RetrievedPoint) {
		chunk := domain.StoredChunk{Metadata: make(map[string]any)}
		for k, v := range point.Payload {
			switch k {
			case "source":
				chunk.Source = v.GetStringValue()
			case "filename":
				chunk.Filename = v.GetStringValue()
			case "chunk_index":
				chunk.ChunkIndex = int(v.GetIntegerValue())
			case "content":
				chunk.Content = v.GetStringValue()
			default:
				chunk.Metadata[k] = goValue(v)
			}
		}
		chunks = append(chunks, chunk)
	})
	if err != nil {
		return nil, err
	}

	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j-1].ChunkIndex > chunks[j].ChunkIndex; j-- {
			chunks[j-1], chunks[j] = chunks[j], chunks[j-1]
		}
	}
	return chunks, nil
}

func (s *Store) scroll(ctx context.Context, filter *pb.Filter, visit func(*pb.RetrievedPoint)) error {
	var offset *pb.PointId
	pageSize := uint32(scrollPageSize)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          &pageSize,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return fmt.Errorf("%w: scroll: %v", domain.ErrVectorStoreFailed, err)
		}
		for _, point := range resp.Result {
			visit(point)
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			return nil
		}
		offset = resp.NextPageOffset
	}
}

// Close tears down the grpc connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

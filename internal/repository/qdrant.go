package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// StudentCodeKey is the payload field holding the student code of a point.
const StudentCodeKey = "student_code"

type collectionsAPI interface {
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type QdrantRepository struct {
	conn        *grpc.ClientConn
	collections collectionsAPI
	points      pointsAPI
	timeout     time.Duration
	logger      zerolog.Logger
}

func NewQdrantRepository(addr, apiKey string, useTLS bool, timeout time.Duration, logger zerolog.Logger) (*QdrantRepository, error) {
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	if apiKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(apiKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial qdrant %s: %w", addr, err)
	}

	logger.Info().
		Str("address", addr).
		Bool("tls", useTLS).
		Msg("Qdrant client created")

	return &QdrantRepository{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		timeout:     timeout,
		logger:      logger,
	}, nil
}

func newQdrantRepositoryWithClients(points pointsAPI, collections collectionsAPI, timeout time.Duration, logger zerolog.Logger) *QdrantRepository {
	return &QdrantRepository{
		collections: collections,
		points:      points,
		timeout:     timeout,
		logger:      logger,
	}
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (r *QdrantRepository) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *QdrantRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *QdrantRepository) CollectionExists(ctx context.Context, collection string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	resp, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: collection})
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	return resp.GetResult().GetExists(), nil
}

func (r *QdrantRepository) CreateCollection(ctx context.Context, collection string, dimension uint64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("%w: %s", ErrCollectionAlreadyExists, collection)
		}
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

func (r *QdrantRepository) Upsert(ctx context.Context, collection string, point models.VectorPoint) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	payload := make(map[string]*pb.Value, len(point.Payload)+1)
	for k, v := range point.Payload {
		payload[k] = stringValue(v)
	}
	payload[StudentCodeKey] = stringValue(point.StudentCode)

	wait := true
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: point.ID},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: point.Vector},
					},
				},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point into %s: %w", collection, err)
	}
	return nil
}

func (r *QdrantRepository) Search(ctx context.Context, collection string, vector []float32, limit uint64, threshold float32, exclude []string) ([]models.SimilarMatch, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          limit,
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(exclude) > 0 {
		req.Filter = &pb.Filter{
			MustNot: []*pb.Condition{keywordsMatch(StudentCodeKey, exclude)},
		}
	}

	resp, err := r.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}

	matches := make([]models.SimilarMatch, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		code := p.GetPayload()[StudentCodeKey].GetStringValue()
		if code == "" {
			r.logger.Debug().Str("collection", collection).Msg("Point without student code skipped")
			continue
		}
		matches = append(matches, models.SimilarMatch{
			StudentCode: code,
			Score:       float64(p.GetScore()),
		})
	}
	return matches, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func keywordsMatch(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{
						Keywords: &pb.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

// isAlreadyExists recognizes both the gRPC status and the REST-style message
// qdrant returns when another process created the collection first.
func isAlreadyExists(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

const (
	predictorServiceName   = "urlverdict.prediction.v1.Predictor"
	predictorMethodPredict = "/urlverdict.prediction.v1.Predictor/Predict"
)

// GRPCBackendConfig configures a model server reached over gRPC
type GRPCBackendConfig struct {
	Name      string
	Addr      string
	Timeout   time.Duration
	HalfWidth float64
}

// GRPCBackend invokes Predictor/Predict with structpb messages, so no
// generated stubs are needed on either side.
type GRPCBackend struct {
	cfg  GRPCBackendConfig
	conn *grpc.ClientConn
}

// NewGRPCBackend dials addr lazily; the connection is established on first use
func NewGRPCBackend(cfg GRPCBackendConfig, opts ...grpc.DialOption) (*GRPCBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("grpc backend %s: addr is empty", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc backend %s: %w", cfg.Name, err)
	}
	return &GRPCBackend{cfg: cfg, conn: conn}, nil
}

// NewGRPCBackendWithConn wraps an existing connection
func NewGRPCBackendWithConn(cfg GRPCBackendConfig, conn *grpc.ClientConn) *GRPCBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	return &GRPCBackend{cfg: cfg, conn: conn}
}

// Name returns the backend name
func (b *GRPCBackend) Name() string {
	return b.cfg.Name
}

// Timeout returns the per-call timeout
func (b *GRPCBackend) Timeout() time.Duration {
	return b.cfg.Timeout
}

// Close releases the connection
func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}

// Predict sends the vector and validates the answer
func (b *GRPCBackend) Predict(ctx context.Context, vector entity.FeatureVector) (*entity.ModelPrediction, error) {
	in, err := toStruct(httpPredictRequest{
		TargetID:      vector.TargetID,
		SchemaVersion: vector.SchemaVersion,
		Features:      vector.Numeric,
		Categorical:   vector.Categorical,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, predictorMethodPredict, in, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", entity.ErrBackendUnavailable, b.cfg.Name, status.Code(err))
	}

	var resp httpPredictResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", entity.ErrBackendUnavailable, b.cfg.Name, err)
	}
	if resp.Probability == nil {
		return nil, fmt.Errorf("%w: %s: missing probability", entity.ErrBackendUnavailable, b.cfg.Name)
	}

	return rawPrediction{
		Probability:  *resp.Probability,
		Lower:        resp.Lower,
		Upper:        resp.Upper,
		ModelID:      resp.ModelID,
		ModelVersion: resp.ModelVersion,
	}.toPrediction(b.cfg.Name, b.cfg.HalfWidth)
}

// PredictFunc serves Predictor/Predict on the model-server side
type PredictFunc func(ctx context.Context, vector entity.FeatureVector) (*entity.ModelPrediction, error)

// PredictorServer is the handler type registered for the Predictor service
type PredictorServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type predictorServer struct {
	fn PredictFunc
}

func (s *predictorServer) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req httpPredictRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	pred, err := s.fn(ctx, entity.FeatureVector{
		TargetID:      req.TargetID,
		SchemaVersion: req.SchemaVersion,
		Numeric:       req.Features,
		Categorical:   req.Categorical,
	})
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	lo, hi := pred.Interval.Lower, pred.Interval.Upper
	return toStruct(httpPredictResponse{
		Probability:  &pred.Probability,
		Lower:        &lo,
		Upper:        &hi,
		ModelID:      pred.ModelID,
		ModelVersion: pred.ModelVersion,
	})
}

// RegisterPredictorServer exposes fn as the Predictor service on s. Used by
// local model servers and tests.
func RegisterPredictorServer(s *grpc.Server, fn PredictFunc) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: predictorServiceName,
		HandlerType: (*PredictorServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Predict", Handler: grpcHandlePredict},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "urlverdict/prediction/v1/predictor.proto",
	}, &predictorServer{fn: fn})
}

func grpcHandlePredict(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	base := func(ctx context.Context, req any) (any, error) {
		return srv.(PredictorServer).Predict(ctx, req.(*structpb.Struct))
	}
	if interceptor == nil {
		return base(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictorMethodPredict}
	return interceptor(ctx, in, info, base)
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

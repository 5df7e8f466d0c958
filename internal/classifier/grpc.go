package classifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/tumor-report/internal/logging"
)

const (
	classifierService = "tumor.v1.Classifier"
	classifyMethod    = "/" + classifierService + "/Classify"

	// TensorShapeKey carries the NHWC shape of the request payload.
	TensorShapeKey = "x-tensor-shape"
)

// ClassifierServer is implemented by remote model services. The request is
// the raw HWC tensor, the response a free-form prediction.
type ClassifierServer interface {
	Classify(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error)
}

func classifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: classifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Classify(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ClassifierServiceDesc describes tumor.v1.Classifier using well-known
// message types only.
var ClassifierServiceDesc = grpc.ServiceDesc{
	ServiceName: classifierService,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tumor/v1/classifier.proto",
}

func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&ClassifierServiceDesc, srv)
}

// GRPCCollaborator calls a remote tumor.v1.Classifier.
type GRPCCollaborator struct {
	conn   grpc.ClientConnInterface
	closer func() error
	logger *zap.Logger
}

var _ Collaborator = (*GRPCCollaborator)(nil)

// DialGRPC returns a ready-to-use collaborator for the classifier at addr.
func DialGRPC(ctx context.Context, addr string, logger *zap.Logger) (*GRPCCollaborator, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("classifier.dial_grpc", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	c := NewGRPCCollaborator(conn, logger)
	c.closer = conn.Close
	return c, nil
}

// NewGRPCCollaborator wraps an existing connection. The caller owns conn.
func NewGRPCCollaborator(conn grpc.ClientConnInterface, logger *zap.Logger) *GRPCCollaborator {
	return &GRPCCollaborator{conn: conn, logger: logger.Named("classifier_grpc")}
}

func (g *GRPCCollaborator) Name() string { return "grpc" }

func (g *GRPCCollaborator) Predict(ctx context.Context, t Tensor) (Prediction, error) {
	shape := t.Shape()
	ctx = metadata.AppendToOutgoingContext(ctx, TensorShapeKey,
		fmt.Sprintf("%d,%d,%d,%d", shape[0], shape[1], shape[2], shape[3]))

	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, classifyMethod, wrapperspb.Bytes(t.Pix), resp); err != nil {
		wrapped := logging.NewOperationError("classifier.grpc_classify", "", err)
		g.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return Prediction(resp.AsMap()), nil
}

// Close releases the connection if DialGRPC opened it.
func (g *GRPCCollaborator) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

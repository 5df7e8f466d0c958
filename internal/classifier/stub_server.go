package classifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/tumor-report/internal/domain"
)

// StubServer is a stand-in tumor.v1.Classifier for local development. It
// scores the tensor with the image-statistics heuristic and reports a
// confidence drawn from rng.
type StubServer struct {
	rng    Rand
	logger *zap.Logger
}

var _ ClassifierServer = (*StubServer)(nil)

func NewStubServer(rng Rand, logger *zap.Logger) *StubServer {
	return &StubServer{rng: rng, logger: logger.Named("classifier_stub")}
}

func (s *StubServer) Classify(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	height, width, err := shapeFromMetadata(ctx)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	pix := req.GetValue()
	if len(pix) != height*width*Channels {
		return nil, status.Errorf(codes.InvalidArgument, "payload has %d bytes, shape needs %d", len(pix), height*width*Channels)
	}

	label := ComputeStats(Tensor{Height: height, Width: width, Pix: pix}).Verdict()
	confidence := 0.5 + 0.5*s.rng.Float64()
	probs := []any{confidence, 1 - confidence}
	if label == domain.LabelTumor {
		probs = []any{1 - confidence, confidence}
	}

	s.logger.Info("classified tensor",
		zap.Int("height", height),
		zap.Int("width", width),
		zap.String("label", string(label)),
	)
	return structpb.NewStruct(map[string]any{"probabilities": probs})
}

// shapeFromMetadata reads the "1,H,W,3" shape sent by GRPCCollaborator.
func shapeFromMetadata(ctx context.Context) (int, int, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(TensorShapeKey)
	if len(values) == 0 {
		return 0, 0, fmt.Errorf("missing %s metadata", TensorShapeKey)
	}
	parts := strings.Split(values[0], ",")
	if len(parts) != 4 {
		return 0, 0, fmt.Errorf("malformed shape %q", values[0])
	}
	dims := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed shape %q", values[0])
		}
		dims[i] = n
	}
	if dims[0] != 1 || dims[3] != Channels {
		return 0, 0, fmt.Errorf("unsupported shape %q", values[0])
	}
	return dims[1], dims[2], nil
}

package classifier

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeClassifierServer struct {
	gotLen   int
	gotShape []string
	resp     map[string]any
	err      error
}

func (f *fakeClassifierServer) Classify(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	f.gotLen = len(req.GetValue())
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		f.gotShape = md.Get(TensorShapeKey)
	}
	if f.err != nil {
		return nil, f.err
	}
	return structpb.NewStruct(f.resp)
}

func startBufconnClassifier(t *testing.T, srv ClassifierServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterClassifierServer(server, srv)
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testTensor() Tensor {
	return Tensor{Height: InputSize, Width: InputSize, Pix: make([]uint8, InputSize*InputSize*Channels)}
}

func TestGRPCCollaborator_Predict(t *testing.T) {
	fake := &fakeClassifierServer{resp: map[string]any{"label": "tumor", "confidence": 0.82}}
	collab := NewGRPCCollaborator(startBufconnClassifier(t, fake), zap.NewNop())

	pred, err := collab.Predict(context.Background(), testTensor())
	require.NoError(t, err)
	assert.Equal(t, InputSize*InputSize*Channels, fake.gotLen)
	assert.Equal(t, []string{"1,240,240,3"}, fake.gotShape)

	label, confidence, err := Normalize(pred)
	require.NoError(t, err)
	assert.Equal(t, "tumor", string(label))
	require.NotNil(t, confidence)
	assert.InDelta(t, 0.82, *confidence, 1e-9)
}

func TestGRPCCollaborator_ServerError(t *testing.T) {
	fake := &fakeClassifierServer{err: status.Error(codes.Unavailable, "model loading")}
	collab := NewGRPCCollaborator(startBufconnClassifier(t, fake), zap.NewNop())

	_, err := collab.Predict(context.Background(), testTensor())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(err)))
	assert.NoError(t, collab.Close())
}

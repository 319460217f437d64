package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/segment-api/internal/model"
	"github.com/example/segment-api/internal/segmentation"
)

func startServer(t *testing.T, predictor model.Predictor) *RemotePredictor {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterModelServer(srv, predictor, zap.NewNop())
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.Dial()
	})
	remote, err := DialModel(context.Background(), "bufnet", time.Second, zap.NewNop(), dialer)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = remote.Close() })
	return remote
}

func TestRemotePredictRoundTrip(t *testing.T) {
	doubler := model.PredictorFunc(func(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error) {
		out := segmentation.NewTensor(1, input.Shape[1], input.Shape[2], 2)
		for i := 0; i < input.Shape[1]*input.Shape[2]; i++ {
			out.Data[2*i] = input.Data[3*i] * 2
			out.Data[2*i+1] = -1
		}
		return out, nil
	})
	remote := startServer(t, doubler)

	input := segmentation.NewTensor(1, 2, 3, 3)
	for i := range input.Data {
		input.Data[i] = float32(i) / 10
	}
	out, err := remote.Predict(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 3, 2}
	for i, d := range want {
		if out.Shape[i] != d {
			t.Fatalf("unexpected shape %v", out.Shape)
		}
	}
	if out.Data[2] != input.Data[3]*2 || out.Data[3] != -1 {
		t.Fatalf("unexpected values %v", out.Data[:4])
	}
}

func TestRemotePredictPropagatesServerFailure(t *testing.T) {
	failing := model.PredictorFunc(func(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error) {
		return nil, errors.New("out of memory")
	})
	remote := startServer(t, failing)

	_, err := remote.Predict(context.Background(), segmentation.NewTensor(1, 1, 1, 3))
	if err == nil {
		t.Fatal("expected error")
	}
	if status.Code(errors.Unwrap(err)) != codes.Internal {
		t.Fatalf("expected Internal status, got %v", err)
	}
}

func TestRemotePredictRejectsMalformedInput(t *testing.T) {
	remote := startServer(t, model.PredictorFunc(func(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error) {
		return input, nil
	}))

	bad := &segmentation.Tensor{Shape: []int{1, 2, 2, 3}, Data: make([]float32, 5)}
	if _, err := remote.Predict(context.Background(), bad); !errors.Is(err, segmentation.ErrShape) {
		t.Fatalf("expected ErrShape before sending, got %v", err)
	}
}

func TestDecodeTensorRejectsTruncatedPayload(t *testing.T) {
	payload, err := EncodeTensor(segmentation.NewTensor(1, 4, 4, 3))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	cases := map[string][]byte{
		"empty":     nil,
		"rank only": payload[:4],
		"truncated": payload[:len(payload)-4],
		"zero rank": {0, 0, 0, 0},
	}
	for name, buf := range cases {
		if _, err := DecodeTensor(buf); !errors.Is(err, segmentation.ErrShape) {
			t.Errorf("%s: expected ErrShape, got %v", name, err)
		}
	}
}

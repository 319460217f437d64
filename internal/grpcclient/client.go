package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/segment-api/internal/logging"
	"github.com/example/segment-api/internal/segmentation"
)

const predictMethod = "/segmentation.v1.ModelService/Predict"

// RemotePredictor forwards tensors to a model server over gRPC.
type RemotePredictor struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *zap.Logger
}

// DialModel returns a ready-to-use predictor for a remote model server.
// timeout bounds each Predict call; zero disables the per-call deadline.
func DialModel(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*RemotePredictor, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model", "", err)
		logger.Error("failed to dial model server", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &RemotePredictor{conn: conn, timeout: timeout, logger: logger.Named("grpc_model")}, nil
}

// Predict sends one input tensor and returns the class scores.
func (r *RemotePredictor) Predict(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error) {
	payload, err := EncodeTensor(input)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode", "", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp := &wrapperspb.BytesValue{}
	if err := r.conn.Invoke(ctx, predictMethod, wrapperspb.Bytes(payload), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		r.logger.Error("model server call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	out, err := DecodeTensor(resp.GetValue())
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode", "", err)
	}
	return out, nil
}

// Close releases the underlying connection.
func (r *RemotePredictor) Close() error {
	return r.conn.Close()
}

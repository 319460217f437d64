package grpcclient

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/segment-api/internal/model"
)

// ModelServer is the server side of the Predict RPC.
type ModelServer interface {
	Predict(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var modelServiceDesc = grpc.ServiceDesc{
	ServiceName: "segmentation.v1.ModelService",
	HandlerType: (*ModelServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    predictHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "segmentation/v1/model.proto",
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterModelServer exposes a local predictor on s.
func RegisterModelServer(s *grpc.Server, predictor model.Predictor, logger *zap.Logger) {
	s.RegisterService(&modelServiceDesc, &predictorServer{predictor: predictor, logger: logger.Named("grpc_model_server")})
}

type predictorServer struct {
	predictor model.Predictor
	logger    *zap.Logger
}

func (p *predictorServer) Predict(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	input, err := DecodeTensor(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := p.predictor.Predict(ctx, input)
	if err != nil {
		p.logger.Error("local predictor failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	payload, err := EncodeTensor(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(payload), nil
}

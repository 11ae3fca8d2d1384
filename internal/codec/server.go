package codec

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
)

// #region server
// StepServer exposes a solver.Stepper as a step service.
type StepServer struct {
	stepper solver.Stepper
	logger  *zap.Logger
}

// NewStepServer wraps stepper. A nil logger disables logging.
func NewStepServer(stepper solver.Stepper, logger *zap.Logger) *StepServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepServer{stepper: stepper, logger: logger.With(zap.String("component", "step-server"))}
}

// Step decodes the request, runs the wrapped stepper and returns its proposal.
func (s *StepServer) Step(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ch, current, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	next := solutions.Allocate(current.Shape())
	if err := s.stepper.Step(ctx, ch, current, next); err != nil {
		s.logger.Warn("step failed", zap.Int("channel_block", ch), zap.Error(err))
		return nil, status.Errorf(codes.Internal, "step channel block %d: %v", ch, err)
	}
	return encodeResponse(next), nil
}

// #endregion server

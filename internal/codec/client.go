package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region client-struct
// StepClient runs the solver's inner step on a remote step service. It
// implements solver.Stepper.
type StepClient struct {
	conn   *grpc.ClientConn
	client StepServiceClient
}

// #endregion client-struct

// #region constructor
// NewStepClient connects to a step service.
func NewStepClient(addr string, opts ...grpc.DialOption) (*StepClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &StepClient{
		conn:   conn,
		client: NewStepServiceClient(conn),
	}, nil
}

// NewStepClientWithService creates a StepClient with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewStepClientWithService(svc StepServiceClient) *StepClient {
	return &StepClient{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *StepClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region step
// Step sends the current channel block to the service and writes the
// proposed solutions into next.
func (c *StepClient) Step(ctx context.Context, channelBlock int, current, next solutions.Span) error {
	resp, err := c.client.Step(ctx, encodeRequest(channelBlock, current))
	if err != nil {
		return fmt.Errorf("step rpc: %w", err)
	}
	if err := decodeValues(resp.GetFields()["next"], next.Data()); err != nil {
		return fmt.Errorf("step response: %w", err)
	}
	return nil
}

// #endregion step

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/codec"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/replay"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
)

// #region serve-cmd
var (
	serveFixture  string
	serveAddr     string
	serveInterval string
)

var serveCmd = &cobra.Command{
	Use:   "serve-stepper",
	Short: "Serve a fixture target as a remote solver step over gRPC",
	Long: `serve-stepper answers StepService calls by proposing the target gains of
one fixture interval. Point "ddecal solve --stepper-addr" at it to exercise
the remote step path end to end.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFixture, "fixture", "", "fixture file (JSON or YAML)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:7071", "listen address")
	serveCmd.Flags().StringVar(&serveInterval, "interval", "", "interval whose target is served (default: first)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveFixture == "" {
		return usageError(errors.New("usage: ddecal serve-stepper --fixture path/to/fixture.json [--addr host:port] [--interval id]"))
	}
	f, err := replay.LoadFixture(serveFixture)
	if err != nil {
		return usageError(fmt.Errorf("load fixture: %w", err))
	}
	intervals, err := f.ToIntervals()
	if err != nil {
		return usageError(err)
	}
	iv, err := pickInterval(intervals, serveInterval)
	if err != nil {
		return usageError(err)
	}

	lis, err := net.Listen("tcp", serveAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", serveAddr, err)
	}
	srv := grpc.NewServer()
	codec.RegisterStepServiceServer(srv, codec.NewStepServer(solver.NewTargetStepper(iv.Target), logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("serving step service",
		zap.String("addr", lis.Addr().String()),
		zap.String("interval", iv.ID),
		zap.Ints("dims", iv.Target.Shape().Dims()))
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func pickInterval(intervals []replay.Interval, id string) (replay.Interval, error) {
	if len(intervals) == 0 {
		return replay.Interval{}, errors.New("fixture has no intervals")
	}
	if id == "" {
		return intervals[0], nil
	}
	for _, iv := range intervals {
		if iv.ID == id {
			return iv, nil
		}
	}
	return replay.Interval{}, fmt.Errorf("interval %q not in fixture", id)
}

// #endregion serve-cmd

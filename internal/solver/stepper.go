package solver

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region target-stepper
// TargetStepper proposes a fixed target solution every iteration. It stands
// in for a visibility-driven step when the answer is known, as in replay
// fixtures and the remote stepper service.
type TargetStepper struct {
	target solutions.Span
}

// NewTargetStepper returns a stepper that always proposes target.
func NewTargetStepper(target solutions.Span) *TargetStepper {
	return &TargetStepper{target: target}
}

// Target returns the proposed solutions.
func (s *TargetStepper) Target() solutions.Span { return s.target }

// Step copies the target channel block into next.
func (s *TargetStepper) Step(ctx context.Context, channelBlock int, current, next solutions.Span) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if channelBlock < 0 || channelBlock >= s.target.Shape().NChannelBlocks {
		return fmt.Errorf("%w: channel block %d of %d", solutions.ErrShapeMismatch, channelBlock, s.target.Shape().NChannelBlocks)
	}
	return next.CopyFrom(s.target.ChannelBlock(channelBlock))
}

// #endregion target-stepper

package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRoutingLoop matches a RoutingLoopError.
	ErrRoutingLoop = errors.New("routing loop")

	// ErrRunAborted is the cancellation cause used to abort a run explicitly.
	ErrRunAborted = errors.New("run aborted")

	// ErrInvalidTopology indicates a topology that cannot be executed.
	ErrInvalidTopology = errors.New("invalid topology")

	// ErrUnknownRouter indicates a conditional topology naming an unregistered router.
	ErrUnknownRouter = errors.New("unknown router")

	// ErrInvalidTransition indicates a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RoutingLoopError is returned when a conditional run exceeds its transition cap.
type RoutingLoopError struct {
	RunID  string
	Cap    int
	Recent []string
}

func (e *RoutingLoopError) Error() string {
	return fmt.Sprintf("run %s exceeded %d transitions (recent: %s)", e.RunID, e.Cap, strings.Join(e.Recent, " -> "))
}

func (e *RoutingLoopError) Is(target error) bool {
	return target == ErrRoutingLoop
}

// DecisionError is returned by a decision function to end the run as failed.
type DecisionError struct {
	Agent  string
	Reason string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("workflow stopped after %s: %s", e.Agent, e.Reason)
}

package contract

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrUnknownAgent indicates a lookup for an agent that is not registered.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent indicates a second registration under an existing name.
	ErrDuplicateAgent = errors.New("duplicate agent")

	// ErrInvalidContract indicates a malformed contract or an unresolvable contract set.
	ErrInvalidContract = errors.New("invalid contract")
)

// UnknownAgentError is returned when a name does not resolve to a registered agent.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.Name)
}

func (e *UnknownAgentError) Is(target error) bool {
	return target == ErrUnknownAgent
}

// DuplicateAgentError is returned when a contract name is registered twice.
type DuplicateAgentError struct {
	Name string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %q already registered", e.Name)
}

func (e *DuplicateAgentError) Is(target error) bool {
	return target == ErrDuplicateAgent
}

// InvalidContractError collects every problem found for one agent, or for the
// contract set as a whole when Agent is empty (e.g. a dependency cycle).
type InvalidContractError struct {
	Agent   string
	Reasons []string
}

func (e *InvalidContractError) Error() string {
	subject := "contract set"
	if e.Agent != "" {
		subject = fmt.Sprintf("contract %q", e.Agent)
	}
	return fmt.Sprintf("invalid %s: %s", subject, strings.Join(e.Reasons, "; "))
}

func (e *InvalidContractError) Is(target error) bool {
	return target == ErrInvalidContract
}

// NewInvalidContractError builds an InvalidContractError with one formatted reason.
func NewInvalidContractError(agent, format string, args ...any) *InvalidContractError {
	return &InvalidContractError{
		Agent:   agent,
		Reasons: []string{fmt.Sprintf(format, args...)},
	}
}

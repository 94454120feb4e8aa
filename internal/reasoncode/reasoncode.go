// Package reasoncode defines the typed rejection-reason vocabulary shared by
// every gate check in the admission pipeline, per the error-handling design:
// every rejection carries a reason code, a human message, and an optional
// suggestion.
package reasoncode

import "github.com/atlas-desktop/derivatives-agent/pkg/types"

// Code is a stable, machine-readable rejection reason.
type Code string

const (
	CodePaused                Code = "PAUSED"
	CodeCircuitBreaker        Code = "CIRCUIT_BREAKER"
	CodeStateLock             Code = "STATE_LOCK"
	CodeStateExiting          Code = "STATE_EXITING"
	CodeStateInPosition       Code = "ALREADY_IN_POSITION"
	CodeDirectionDisallowed   Code = "DIRECTION_DISALLOWED"
	CodeInvalidIntent         Code = "INVALID_INTENT"
	CodeUnparseableCommand    Code = "UNPARSEABLE_COMMAND"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeSizeBelowMinimum      Code = "SIZE_BELOW_MIN"
	CodeSizeCalcError         Code = "SIZE_CALC_ERROR"
	CodeExchangeTimeout       Code = "EXCHANGE_TIMEOUT"
	CodeExchangeRateLimited   Code = "EXCHANGE_RATE_LIMITED"
	CodeExchangeError         Code = "EXCHANGE_ERROR"
	CodeInconsistentState     Code = "INCONSISTENT_STATE"
	CodeUnsupportedAction     Code = "UNSUPPORTED_ACTION"
	CodeFatal                 Code = "FATAL"
)

// Rejection is the structured, user-visible outcome of a blocked gate check.
// Snapshot, when present, lets the operator see why the gate fired.
type Rejection struct {
	Code       Code                     `json:"reasonCode"`
	Message    string                   `json:"message"`
	Suggestion string                   `json:"suggestion,omitempty"`
	Snapshot   *types.StrategySnapshot  `json:"snapshot,omitempty"`
}

func (r *Rejection) Error() string {
	return r.Message
}

// New builds a Rejection with no attached snapshot.
func New(code Code, message, suggestion string) *Rejection {
	return &Rejection{Code: code, Message: message, Suggestion: suggestion}
}

// WithSnapshot attaches a strategy snapshot to an existing rejection.
func (r *Rejection) WithSnapshot(s types.StrategySnapshot) *Rejection {
	r.Snapshot = &s
	return r
}

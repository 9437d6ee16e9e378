// Package dispatch implements the round/task dispatch engine: the round
// registry, per-round task state machine, batched lease allocation, the
// processing-timeout sweeper, node-performance accumulation, and the
// global completion detector.
package dispatch

import "fmt"

// Code is a machine-readable error classification surfaced to callers.
type Code string

// Error codes recognized by the dispatch engine (spec §7).
const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeRoundCompleted   Code = "ROUND_COMPLETED"
	CodeNoActiveRound    Code = "NO_ACTIVE_ROUND"
	CodeRoundUnavailable Code = "ROUND_UNAVAILABLE"
	CodePersistence      Code = "PERSISTENCE_FAILURE"
)

// Error is the error type returned by dispatch operations. It carries a
// machine code plus a short message suitable for direct display.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ErrNotFound builds a NOT_FOUND error with a Chinese display message.
func ErrNotFound(what string) *Error {
	return newError(CodeNotFound, fmt.Sprintf("未找到%s", what))
}

// ErrInvalidInput builds an INVALID_INPUT error.
func ErrInvalidInput(reason string) *Error {
	return newError(CodeInvalidInput, fmt.Sprintf("参数无效：%s", reason))
}

// ErrRoundCompleted builds a ROUND_COMPLETED error.
func ErrRoundCompleted() *Error {
	return newError(CodeRoundCompleted, "任务轮次已完成，无法激活")
}

// ErrNoActiveRound builds a NO_ACTIVE_ROUND error.
func ErrNoActiveRound() *Error {
	return newError(CodeNoActiveRound, "当前没有活动的任务轮次")
}

// ErrRoundUnavailable builds a ROUND_UNAVAILABLE error (demand-load failure).
func ErrRoundUnavailable(roundID string, cause error) *Error {
	return newError(CodeRoundUnavailable, fmt.Sprintf("任务轮次 %s 暂不可用：%v", roundID, cause))
}

package ledger

import "errors"

// Code is a machine-readable reason for a rejected fund operation.
type Code string

const (
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeDeadlineExpired    Code = "DEADLINE_EXPIRED"
	CodeDeadlineNotPassed  Code = "DEADLINE_NOT_PASSED"
	CodeBelowMinimum       Code = "BELOW_MINIMUM"
	CodeNotContributor     Code = "NOT_CONTRIBUTOR"
	CodeAlreadyVoted       Code = "ALREADY_VOTED"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeInsufficientQuorum Code = "INSUFFICIENT_QUORUM"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyCompleted   Code = "ALREADY_COMPLETED"
	CodeGoalWasMet         Code = "GOAL_WAS_MET"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeInvalidRecipient   Code = "INVALID_RECIPIENT"
	CodeInvalidCaller      Code = "INVALID_CALLER"
	CodeReentrant          Code = "REENTRANT_CALL"
)

// Error is a precondition failure. State is never changed when one is returned.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrUnauthorized       = &Error{CodeUnauthorized, "caller is not the admin"}
	ErrDeadlineExpired    = &Error{CodeDeadlineExpired, "deadline has passed"}
	ErrDeadlineNotPassed  = &Error{CodeDeadlineNotPassed, "deadline has not passed"}
	ErrBelowMinimum       = &Error{CodeBelowMinimum, "minimum contribution not met"}
	ErrNotContributor     = &Error{CodeNotContributor, "caller is not a contributor"}
	ErrAlreadyVoted       = &Error{CodeAlreadyVoted, "caller already voted on this request"}
	ErrInvalidRequest     = &Error{CodeInvalidRequest, "spending request does not exist"}
	ErrInsufficientQuorum = &Error{CodeInsufficientQuorum, "the request needs more than 50% of the contributors"}
	ErrInsufficientFunds  = &Error{CodeInsufficientFunds, "fund balance is too low"}
	ErrAlreadyCompleted   = &Error{CodeAlreadyCompleted, "spending request was already paid"}
	ErrGoalWasMet         = &Error{CodeGoalWasMet, "the goal was met"}
	ErrInvalidAmount      = &Error{CodeInvalidAmount, "amount must be positive"}
	ErrInvalidRecipient   = &Error{CodeInvalidRecipient, "recipient is required"}
	ErrInvalidCaller      = &Error{CodeInvalidCaller, "caller identity is required"}
	ErrReentrant          = &Error{CodeReentrant, "ledger operation called while another is settling"}
)

// CodeOf returns the domain code carried by err, or "" for infrastructure failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

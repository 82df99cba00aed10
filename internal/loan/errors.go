package loan

import "errors"

var (
	ErrLoanNotFound  = errors.New("loan engine: loan not found")
	ErrLoanClosed    = errors.New("loan engine: loan already terminal")
	ErrUnauthorized  = errors.New("loan engine: caller does not hold the loan token")
	ErrSelfKill      = errors.New("loan engine: borrower cannot kill own loan")
	ErrNotKillable   = errors.New("loan engine: fee cushion not exhausted")
	ErrFeesTooLow    = errors.New("loan engine: fees below minimum borrow fees")
	ErrZeroDelegatee = errors.New("loan engine: delegatee must be set")
	ErrZeroAmount    = errors.New("loan engine: zero amount")
	ErrTokenNotFound = errors.New("loan engine: ownership token not found")
)

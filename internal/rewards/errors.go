package rewards

import "errors"

var (
	ErrNoRewardToken            = errors.New("rewards engine: reward token not set")
	ErrAssetNotFound            = errors.New("rewards engine: asset not registered")
	ErrZeroAmount               = errors.New("rewards engine: zero amount")
	ErrRatioOutOfRange          = errors.New("rewards engine: borrow ratio outside [0, 1]")
	ErrInsufficientStake        = errors.New("rewards engine: withdraw exceeds deposited stake")
	ErrInsufficientRewardSupply = errors.New("rewards engine: reward fund cannot cover claim")
	ErrLoanStillOpen            = errors.New("rewards engine: loan not yet closed")
	ErrNotBorrower              = errors.New("rewards engine: caller is not the borrower")
	ErrAlreadyClaimed           = errors.New("rewards engine: loan reward already claimed")
	ErrUnknownLoan              = errors.New("rewards engine: loan unknown to rewards state")
)

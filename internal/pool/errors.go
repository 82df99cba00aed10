package pool

import "errors"

var (
	ErrPoolNotFound          = errors.New("pool engine: pool not found")
	ErrPoolExists            = errors.New("pool engine: pool already registered")
	ErrZeroAmount            = errors.New("pool engine: zero amount")
	ErrInvalidParams         = errors.New("pool engine: invalid parameters")
	ErrInsufficientLiquidity = errors.New("pool engine: insufficient liquidity")
	ErrInsufficientReserve   = errors.New("pool engine: insufficient reserve")
	ErrInsufficientFees      = errors.New("pool engine: insufficient accrued fees")
	ErrStaleBlock            = errors.New("pool engine: block number precedes last accrual")
)

package event

import (
	"encoding/json"
	"fmt"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCashDeposit
	EventTypeCashWithdraw
	EventTypePoolDeposit
	EventTypePoolWithdraw
	EventTypeLoanOpen
	EventTypeLoanExpand
	EventTypeLoanClose
	EventTypeLoanKill
	EventTypeLoanTransfer
	EventTypeStakeDeposit
	EventTypeStakeWithdraw
	EventTypeRewardsUpdateUser
	EventTypeRewardsClaim
	EventTypeLoanRewardsClaim
	EventTypePoolRegister
	EventTypePoolParamsUpdate
	EventTypePoolRewardsUpdate
	EventTypeRewardTokenUpdate
	EventTypeRewardsFund
	EventTypeReserveSweep
	EventTypeFeesSweep
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Pool context (nullable for global events)
	PoolID *string

	// Versioned input block height (NOT wall-clock)
	BlockNumber int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PoolID returns the pool context (nil for global events)
	PoolID() *string

	// BlockNumber returns the block height this event executes at
	BlockNumber() int64

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeCashDeposit:
		return "CashDeposit"
	case EventTypeCashWithdraw:
		return "CashWithdraw"
	case EventTypePoolDeposit:
		return "PoolDeposit"
	case EventTypePoolWithdraw:
		return "PoolWithdraw"
	case EventTypeLoanOpen:
		return "LoanOpen"
	case EventTypeLoanExpand:
		return "LoanExpand"
	case EventTypeLoanClose:
		return "LoanClose"
	case EventTypeLoanKill:
		return "LoanKill"
	case EventTypeLoanTransfer:
		return "LoanTransfer"
	case EventTypeStakeDeposit:
		return "StakeDeposit"
	case EventTypeStakeWithdraw:
		return "StakeWithdraw"
	case EventTypeRewardsUpdateUser:
		return "RewardsUpdateUser"
	case EventTypeRewardsClaim:
		return "RewardsClaim"
	case EventTypeLoanRewardsClaim:
		return "LoanRewardsClaim"
	case EventTypePoolRegister:
		return "PoolRegister"
	case EventTypePoolParamsUpdate:
		return "PoolParamsUpdate"
	case EventTypePoolRewardsUpdate:
		return "PoolRewardsUpdate"
	case EventTypeRewardTokenUpdate:
		return "RewardTokenUpdate"
	case EventTypeRewardsFund:
		return "RewardsFund"
	case EventTypeReserveSweep:
		return "ReserveSweep"
	case EventTypeFeesSweep:
		return "FeesSweep"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String. Returns EventTypeUnknown for
// unrecognized names.
func ParseEventType(s string) EventType {
	for et := EventTypeCashDeposit; et <= EventTypeFeesSweep; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// DecodePayload unmarshals a stored envelope payload back into its typed
// event. Used during replay; the payload is the core's own serialization,
// so decode is exact.
func DecodePayload(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeCashDeposit:
		evt = &CashDeposit{}
	case EventTypeCashWithdraw:
		evt = &CashWithdraw{}
	case EventTypePoolDeposit:
		evt = &PoolDeposit{}
	case EventTypePoolWithdraw:
		evt = &PoolWithdraw{}
	case EventTypeLoanOpen:
		evt = &LoanOpen{}
	case EventTypeLoanExpand:
		evt = &LoanExpand{}
	case EventTypeLoanClose:
		evt = &LoanClose{}
	case EventTypeLoanKill:
		evt = &LoanKill{}
	case EventTypeLoanTransfer:
		evt = &LoanTransfer{}
	case EventTypeStakeDeposit:
		evt = &StakeDeposit{}
	case EventTypeStakeWithdraw:
		evt = &StakeWithdraw{}
	case EventTypeRewardsUpdateUser:
		evt = &RewardsUpdateUser{}
	case EventTypeRewardsClaim:
		evt = &RewardsClaim{}
	case EventTypeLoanRewardsClaim:
		evt = &LoanRewardsClaim{}
	case EventTypePoolRegister:
		evt = &PoolRegister{}
	case EventTypePoolParamsUpdate:
		evt = &PoolParamsUpdate{}
	case EventTypePoolRewardsUpdate:
		evt = &PoolRewardsUpdate{}
	case EventTypeRewardTokenUpdate:
		evt = &RewardTokenUpdate{}
	case EventTypeRewardsFund:
		evt = &RewardsFund{}
	case EventTypeReserveSweep:
		evt = &ReserveSweep{}
	case EventTypeFeesSweep:
		evt = &FeesSweep{}
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}

package event

import "github.com/google/uuid"

// Meta carries the fields every command event shares. Embedding it gives a
// payload type its envelope accessors; the payload only adds EventType.
type Meta struct {
	EventID  uuid.UUID
	Pool     string // empty for global events
	Block    int64
	Sequence int64
}

func (m *Meta) IdempotencyKey() string {
	return m.EventID.String()
}

func (m *Meta) PoolID() *string {
	if m.Pool == "" {
		return nil
	}
	return &m.Pool
}

func (m *Meta) BlockNumber() int64 {
	return m.Block
}

func (m *Meta) SourceSequence() int64 {
	return m.Sequence
}

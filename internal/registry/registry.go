package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrNotAdmin      = errors.New("registry: caller is not the admin")
	ErrPoolListed    = errors.New("registry: pool already listed")
	ErrPoolNotListed = errors.New("registry: pool not listed")
	ErrPoolInactive  = errors.New("registry: pool deregistered")
)

// Entry is one listed pool.
type Entry struct {
	PoolID          string
	UnderlyingAsset string
	ReceiptAsset    string
	ListedBlock     int64
	Active          bool
}

// Registry is the explicit admin surface: who may administer, and which
// pools exist. It is injected into the core rather than read as ambient
// state, and every admin event passes through RequireAdmin exactly once.
type Registry struct {
	admin uuid.UUID
	pools map[string]*Entry
}

func New(admin uuid.UUID) *Registry {
	return &Registry{
		admin: admin,
		pools: make(map[string]*Entry),
	}
}

// RequireAdmin is the single authorization gate for admin operations.
func (r *Registry) RequireAdmin(caller uuid.UUID) error {
	if caller != r.admin {
		return ErrNotAdmin
	}
	return nil
}

func (r *Registry) Admin() uuid.UUID {
	return r.admin
}

// AddPool lists a pool.
func (r *Registry) AddPool(poolID, underlying, receipt string, block int64) error {
	if _, ok := r.pools[poolID]; ok {
		return fmt.Errorf("%w: %s", ErrPoolListed, poolID)
	}
	r.pools[poolID] = &Entry{
		PoolID:          poolID,
		UnderlyingAsset: underlying,
		ReceiptAsset:    receipt,
		ListedBlock:     block,
		Active:          true,
	}
	return nil
}

// DeactivatePool delists a pool for new activity. State and history stay.
func (r *Registry) DeactivatePool(poolID string) error {
	e, ok := r.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotListed, poolID)
	}
	e.Active = false
	return nil
}

// RequireActive rejects operations against unknown or delisted pools.
func (r *Registry) RequireActive(poolID string) error {
	e, ok := r.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotListed, poolID)
	}
	if !e.Active {
		return fmt.Errorf("%w: %s", ErrPoolInactive, poolID)
	}
	return nil
}

// Entries returns all listed pools in deterministic order.
func (r *Registry) Entries() []Entry {
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.pools[id])
	}
	return out
}

// Restore replaces the listing from a snapshot.
func (r *Registry) Restore(admin uuid.UUID, entries []Entry) {
	r.admin = admin
	r.pools = make(map[string]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		r.pools[e.PoolID] = &e
	}
}

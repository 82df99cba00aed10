package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopePool
	AccountScopeVehicle
	AccountScopeRewards
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCash AccountSubType = iota

	// Pool sub-types
	SubTypePoolCash

	// Vehicle sub-types
	SubTypeVehiclePrincipal
	SubTypeVehicleFees

	// Rewards sub-types
	SubTypeRewardFund
	SubTypeRewardStake

	// External sub-types
	SubTypeExternalSettlement
)

// AssetID maps asset strings to numeric IDs for compact keys. Assets are
// registered at pool-listing time, so the table is mutated only by the core
// goroutine and needs no locking.
type AssetID uint16

type AssetTable struct {
	nameToID map[string]AssetID
	idToName map[AssetID]string
	next     AssetID
}

func NewAssetTable() *AssetTable {
	return &AssetTable{
		nameToID: make(map[string]AssetID),
		idToName: make(map[AssetID]string),
		next:     1,
	}
}

// Register returns the existing ID for a known asset or assigns the next one.
func (t *AssetTable) Register(asset string) AssetID {
	if id, ok := t.nameToID[asset]; ok {
		return id
	}
	id := t.next
	t.next++
	t.nameToID[asset] = id
	t.idToName[id] = asset
	return id
}

func (t *AssetTable) Lookup(asset string) (AssetID, bool) {
	id, ok := t.nameToID[asset]
	return id, ok
}

func (t *AssetTable) Name(id AssetID) (string, bool) {
	name, ok := t.idToName[id]
	return name, ok
}

// Snapshot copies the table so a failed event can roll back registrations.
// ID assignment order is part of deterministic state.
func (t *AssetTable) Snapshot() *AssetTable {
	out := NewAssetTable()
	out.next = t.next
	for name, id := range t.nameToID {
		out.nameToID[name] = id
		out.idToName[id] = name
	}
	return out
}

// RestoreFrom replaces the table contents from a snapshot.
func (t *AssetTable) RestoreFrom(snap *AssetTable) {
	t.nameToID = snap.nameToID
	t.idToName = snap.idToName
	t.next = snap.next
}

type assetTableJSON struct {
	Next   AssetID            `json:"next"`
	Assets map[string]AssetID `json:"assets"`
}

// MarshalJSON serializes the table for snapshots. ID assignment order is
// deterministic state, so next is stored explicitly.
func (t *AssetTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(assetTableJSON{Next: t.next, Assets: t.nameToID})
}

func (t *AssetTable) UnmarshalJSON(b []byte) error {
	var raw assetTableJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.next = raw.Next
	t.nameToID = make(map[string]AssetID, len(raw.Assets))
	t.idToName = make(map[AssetID]string, len(raw.Assets))
	for name, id := range raw.Assets {
		t.nameToID[name] = id
		t.idToName[id] = name
	}
	return nil
}

// Names returns all registered asset names in deterministic order.
func (t *AssetTable) Names() []string {
	out := make([]string, 0, len(t.nameToID))
	for name := range t.nameToID {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users and vehicles, padded name for pools
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for a user's free balance in an asset
func NewUserAccountKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeCash,
		AssetID:  assetID,
	}
}

// NewPoolAccountKey creates a key for a pool-level account
func NewPoolAccountKey(poolID string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(poolID))
	return AccountKey{
		Scope:    AccountScopePool,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewVehicleAccountKey creates a key for a per-loan vehicle escrow account
func NewVehicleAccountKey(vehicleID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeVehicle,
		EntityID: vehicleID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewRewardsAccountKey creates a key for a rewards-engine account
func NewRewardsAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeRewards,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for the external boundary account
func NewExternalAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalSettlement,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%d", uid.String(), k.subTypeName(), k.AssetID)
	case AccountScopePool:
		return fmt.Sprintf("pool:%s:%s:%d", trimEntityID(k.EntityID), k.subTypeName(), k.AssetID)
	case AccountScopeVehicle:
		vid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("vehicle:%s:%s:%d", vid.String(), k.subTypeName(), k.AssetID)
	case AccountScopeRewards:
		return fmt.Sprintf("rewards:%s:%d", k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%d", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

func trimEntityID(id [16]byte) string {
	n := 0
	for n < len(id) && id[n] != 0 {
		n++
	}
	return string(id[:n])
}

// MarshalText encodes the key for snapshot serialization. AccountPath
// stays the human-readable form used in journals and logs.
func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d:%d:%d:%s",
		k.Scope, k.SubType, k.AssetID, hex.EncodeToString(k.EntityID[:]))), nil
}

func (k *AccountKey) UnmarshalText(b []byte) error {
	parts := strings.SplitN(string(b), ":", 4)
	if len(parts) != 4 {
		return fmt.Errorf("malformed account key %q", string(b))
	}
	scope, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return fmt.Errorf("account key scope: %w", err)
	}
	subType, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return fmt.Errorf("account key sub-type: %w", err)
	}
	assetID, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return fmt.Errorf("account key asset: %w", err)
	}
	entity, err := hex.DecodeString(parts[3])
	if err != nil || len(entity) != 16 {
		return fmt.Errorf("malformed account key entity %q", parts[3])
	}
	k.Scope = AccountScope(scope)
	k.SubType = AccountSubType(subType)
	k.AssetID = AssetID(assetID)
	copy(k.EntityID[:], entity)
	return nil
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCash:
		return "cash"
	case SubTypePoolCash:
		return "cash"
	case SubTypeVehiclePrincipal:
		return "principal"
	case SubTypeVehicleFees:
		return "fees"
	case SubTypeRewardFund:
		return "fund"
	case SubTypeRewardStake:
		return "stake"
	case SubTypeExternalSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

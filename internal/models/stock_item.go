package models

import "time"

type ItemStatus string

const (
	ItemAvailable ItemStatus = "AVAILABLE"
	ItemReserved  ItemStatus = "RESERVED"
	ItemAssigned  ItemStatus = "ASSIGNED"
	ItemUsed      ItemStatus = "USED"
	ItemExpired   ItemStatus = "EXPIRED"
	ItemFailed    ItemStatus = "FAILED"
)

// itemTransitions encodes the per-item state machine:
// AVAILABLE -> RESERVED -> ASSIGNED -> USED, with EXPIRED and FAILED as
// terminal escapes reachable from any non-terminal state. An item never
// returns to AVAILABLE automatically; release is an explicit operator action
// handled outside this table.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemAvailable: {ItemReserved, ItemAssigned, ItemExpired, ItemFailed},
	ItemReserved:  {ItemAssigned, ItemExpired, ItemFailed},
	ItemAssigned:  {ItemUsed, ItemExpired, ItemFailed},
}

// CanTransition reports whether from -> to is a valid item state change.
func CanTransition(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalStatus reports whether s is a terminal item state.
func TerminalStatus(s ItemStatus) bool {
	return s == ItemUsed || s == ItemExpired || s == ItemFailed
}

// StockItem is one unique, single-use credential inside a pool. The payload
// is stored encrypted; PayloadMask is the only representation handed out by
// default. Free-text tags are carried from the import rows as-is.
type StockItem struct {
	ID           int        `db:"id" json:"id"`
	PoolID       int        `db:"pool_id" json:"poolId"`
	PayloadEnc   string     `db:"payload_enc" json:"-"`
	PayloadHash  string     `db:"payload_hash" json:"-"`
	PayloadMask  string     `db:"payload_mask" json:"payload"`
	SerialNumber *string    `db:"serial_number" json:"serialNumber,omitempty"`
	PriceTag     *string    `db:"price_tag" json:"priceTag,omitempty"`
	TypeTag      *string    `db:"type_tag" json:"typeTag,omitempty"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	Status       ItemStatus `db:"status" json:"status"`

	OrderID      *string    `db:"order_id" json:"orderId,omitempty"`
	ClaimedBy    *string    `db:"claimed_by" json:"claimedBy,omitempty"`
	ClaimedEmail *string    `db:"claimed_email" json:"claimedEmail,omitempty"`
	AssignedAt   *time.Time `db:"assigned_at" json:"assignedAt,omitempty"`
	UsedAt       *time.Time `db:"used_at" json:"usedAt,omitempty"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expiresAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

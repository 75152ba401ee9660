package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CredentialType string
type PoolStatus string

const (
	CredentialPIN  CredentialType = "PIN"
	CredentialESIM CredentialType = "ESIM_PROFILE"
)

const (
	PoolActive   PoolStatus = "ACTIVE"
	PoolInactive PoolStatus = "INACTIVE"
	PoolDepleted PoolStatus = "DEPLETED"
)

// ValidCredentialType reports whether t is a known credential type.
func ValidCredentialType(t CredentialType) bool {
	return t == CredentialPIN || t == CredentialESIM
}

// Pool is a named collection of unique, typed credential items tied to an
// inventory bucket. Counters are materialized aggregates maintained in the
// same transaction as every item mutation; they are never recomputed by
// rescans on the hot path.
type Pool struct {
	ID             int             `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	CredentialType CredentialType  `db:"credential_type" json:"credentialType"`
	BucketID       string          `db:"bucket_id" json:"bucketId"`
	Network        string          `db:"network" json:"network,omitempty"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Description    string          `db:"description" json:"description,omitempty"`
	BatchLabel     string          `db:"batch_label" json:"batchLabel,omitempty"`
	Status         PoolStatus      `db:"status" json:"status"`

	TotalCount     int `db:"total_count" json:"totalCount"`
	AvailableCount int `db:"available_count" json:"availableCount"`
	ReservedCount  int `db:"reserved_count" json:"reservedCount"`
	AssignedCount  int `db:"assigned_count" json:"assignedCount"`
	UsedCount      int `db:"used_count" json:"usedCount"`
	ExpiredCount   int `db:"expired_count" json:"expiredCount"`
	FailedCount    int `db:"failed_count" json:"failedCount"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// CountersConsistent checks the conservation invariant:
// total = available + reserved + assigned + used + expired + failed.
func (p *Pool) CountersConsistent() bool {
	return p.TotalCount == p.AvailableCount+p.ReservedCount+p.AssignedCount+
		p.UsedCount+p.ExpiredCount+p.FailedCount
}

// Depleted reports whether the pool has nothing left to hand out.
func (p *Pool) Depleted() bool {
	return p.AvailableCount == 0 && p.ReservedCount == 0
}

// NextStatus derives the status after a counter change. An operator-set
// INACTIVE pool stays inactive; otherwise the pool flips between ACTIVE and
// DEPLETED based on remaining stock.
func (p *Pool) NextStatus() PoolStatus {
	if p.Status == PoolInactive {
		return PoolInactive
	}
	if p.Depleted() {
		return PoolDepleted
	}
	return PoolActive
}

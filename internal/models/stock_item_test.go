package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	valid := []struct{ from, to ItemStatus }{
		{ItemAvailable, ItemReserved},
		{ItemAvailable, ItemAssigned},
		{ItemReserved, ItemAssigned},
		{ItemAssigned, ItemUsed},
		{ItemAvailable, ItemExpired},
		{ItemAvailable, ItemFailed},
		{ItemReserved, ItemExpired},
		{ItemReserved, ItemFailed},
		{ItemAssigned, ItemExpired},
		{ItemAssigned, ItemFailed},
	}
	for _, tc := range valid {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	invalid := []struct{ from, to ItemStatus }{
		// no automatic return to AVAILABLE
		{ItemReserved, ItemAvailable},
		{ItemAssigned, ItemAvailable},
		{ItemUsed, ItemAvailable},
		// terminal states stay terminal
		{ItemUsed, ItemAssigned},
		{ItemExpired, ItemAssigned},
		{ItemFailed, ItemAvailable},
		{ItemExpired, ItemFailed},
		// no skipping backwards
		{ItemAssigned, ItemReserved},
		{ItemAvailable, ItemUsed},
	}
	for _, tc := range invalid {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatus(t *testing.T) {
	assert.True(t, TerminalStatus(ItemUsed))
	assert.True(t, TerminalStatus(ItemExpired))
	assert.True(t, TerminalStatus(ItemFailed))
	assert.False(t, TerminalStatus(ItemAvailable))
	assert.False(t, TerminalStatus(ItemReserved))
	assert.False(t, TerminalStatus(ItemAssigned))
}

func TestPoolCountersConsistent(t *testing.T) {
	p := Pool{TotalCount: 10, AvailableCount: 4, ReservedCount: 1, AssignedCount: 2, UsedCount: 2, ExpiredCount: 0, FailedCount: 1}
	assert.True(t, p.CountersConsistent())

	p.UsedCount = 3
	assert.False(t, p.CountersConsistent())
}

func TestPoolNextStatus(t *testing.T) {
	p := Pool{Status: PoolActive, AvailableCount: 1}
	assert.Equal(t, PoolActive, p.NextStatus())

	p.AvailableCount = 0
	assert.Equal(t, PoolDepleted, p.NextStatus())

	// a reserved item keeps the pool out of DEPLETED
	p.ReservedCount = 1
	assert.Equal(t, PoolActive, p.NextStatus())

	// operator-set INACTIVE is sticky
	p.Status = PoolInactive
	p.ReservedCount = 0
	assert.Equal(t, PoolInactive, p.NextStatus())
}

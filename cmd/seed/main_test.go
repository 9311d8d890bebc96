package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/domain/policy"
)

func TestSeedRooms_PoliciesResolve(t *testing.T) {
	require.NotEmpty(t, rooms)
	for _, r := range rooms {
		t.Run(r.name, func(t *testing.T) {
			p := r.params()
			assert.LessOrEqual(t, p.RoomCount, inventory.MaxUnits)
			assert.LessOrEqual(t, p.PricePerNight, inventory.MaxPrice)

			got, err := policy.Resolve(p.CancellationPolicy)
			require.NoError(t, err)
			assert.Equal(t, r.refundPct, got.RefundPercentage)
			assert.Equal(t, r.freeDays, got.FreeCancellationBeforeDays)
		})
	}
}

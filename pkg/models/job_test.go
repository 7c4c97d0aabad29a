package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriority_Rank_OrdersUrgentFirst(t *testing.T) {
	assert.Greater(t, PriorityUrgent.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Greater(t, PriorityNormal.Rank(), PriorityLow.Rank())
}

func TestPriority_Rank_UnrecognizedFallsBackToNormal(t *testing.T) {
	assert.Equal(t, PriorityNormal.Rank(), Priority("bogus").Rank())
}

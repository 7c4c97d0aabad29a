package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_IsDowngradeFrom_RejectsBackwardTransition(t *testing.T) {
	assert.True(t, StageGreeting.IsDowngradeFrom(StageClosing))
	assert.False(t, StageClosing.IsDowngradeFrom(StageGreeting))
}

func TestStage_IsDowngradeFrom_SupportBypassesCheck(t *testing.T) {
	assert.False(t, StageSupport.IsDowngradeFrom(StageClosing))
	assert.False(t, StageGreeting.IsDowngradeFrom(StageSupport))
}

func TestStage_IsDowngradeFrom_SameStageIsNotDowngrade(t *testing.T) {
	assert.False(t, StageDiscovery.IsDowngradeFrom(StageDiscovery))
}

func TestStage_IsValid(t *testing.T) {
	assert.True(t, StageGreeting.IsValid())
	assert.True(t, StageSupport.IsValid())
	assert.False(t, Stage("bogus").IsValid())
}

package stress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableIsValid(t *testing.T) {
	require.NoError(t, DefaultTable().Validate())
	require.NoError(t, DefaultConfig().Validate())
}

func TestThresholdSetRejectsNonMonotonic(t *testing.T) {
	higher := ThresholdSet{Direction: HigherIsWorse, Levels: map[Level]float64{NormalLow: 0.3, NormalHigh: 3, Stressed: 3, Extreme: 20}}
	err := higher.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stressed")

	lower := ThresholdSet{Direction: LowerIsWorse, Levels: map[Level]float64{Healthy: 400, NormalLow: 450, Stressed: 300}}
	require.Error(t, lower.Validate())
}

func TestThresholdSetRejectsUnknownLevelAndDirection(t *testing.T) {
	set := ThresholdSet{Direction: HigherIsWorse, Levels: map[Level]float64{Healthy: 1}}
	require.Error(t, set.Validate())

	set = ThresholdSet{Direction: "sideways", Levels: map[Level]float64{NormalHigh: 1}}
	require.Error(t, set.Validate())
}

func TestTableRequiresNormalizerLevels(t *testing.T) {
	table := DefaultTable()
	delete(table[ThresholdLeaseRate].Levels, NormalHigh)

	err := table.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds.lease_rate: missing normal_high")

	table = DefaultTable()
	delete(table, ThresholdShanghaiPremium)
	require.ErrorContains(t, table.Validate(), "thresholds.shanghai_premium: missing")
}

func TestTableCloneIsIndependent(t *testing.T) {
	table := DefaultTable()
	clone := table.Clone()
	clone[ThresholdLeaseRate].Levels[NormalHigh] = 99

	v, _ := table[ThresholdLeaseRate].Get(NormalHigh)
	assert.Equal(t, 3.0, v)
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompositeBands = []Band{{MinRatio: 0.5, Color: Green, Label: "x"}, {MinRatio: 0.6, Color: Red, Label: "y"}}
	_, err := NewEngine(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.ContractSizeOz = 0
	_, err = NewEngine(cfg)
	require.Error(t, err)
}

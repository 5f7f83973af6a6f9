package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierTopologies(t *testing.T) {
	published := map[Tier][]int{
		TierMinimal:    {6, 16, 3},
		TierLight:      {6, 32, 32, 3},
		TierMedium:     {6, 64, 64, 32, 3},
		TierHeavy:      {6, 128, 128, 64, 32, 3},
		TierSuperHeavy: {6, 256, 256, 128, 64, 3},
	}
	require.Len(t, Tiers(), len(published))

	for _, tier := range Tiers() {
		t.Run(tier.String(), func(t *testing.T) {
			net, err := NewForTier(tier)
			require.NoError(t, err)

			sizes := net.Sizes()
			assert.Equal(t, published[tier], sizes)
			assert.Equal(t, StateSize, sizes[0])
			assert.Equal(t, ActionCount, sizes[len(sizes)-1])
			assert.LessOrEqual(t, len(sizes), MaxLayers)

			got, ok := net.Tier()
			require.True(t, ok)
			assert.Equal(t, tier, got)
		})
	}
}

func TestTierSizesReturnsCopy(t *testing.T) {
	sizes, err := TierLight.Sizes()
	require.NoError(t, err)
	sizes[1] = 1

	again, err := TierLight.Sizes()
	require.NoError(t, err)
	assert.Equal(t, 32, again[1])
}

func TestTierInvalid(t *testing.T) {
	_, err := Tier(42).Sizes()
	require.ErrorIs(t, err, ErrConstruction)
	assert.False(t, Tier(-1).Valid())
	assert.Equal(t, "tier(42)", Tier(42).String())
	assert.Zero(t, Tier(42).ParameterCount())

	_, ok := TierOf([]int{6, 7, 3})
	assert.False(t, ok)
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		raw  string
		want Tier
	}{
		{raw: "minimal", want: TierMinimal},
		{raw: "LIGHT", want: TierLight},
		{raw: " medium ", want: TierMedium},
		{raw: "3", want: TierHeavy},
		{raw: "super-heavy", want: TierSuperHeavy},
		{raw: "superheavy", want: TierSuperHeavy},
	}
	for _, tc := range tests {
		got, err := ParseTier(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := ParseTier("colossal")
	assert.Error(t, err)
}

func TestTierParameterCount(t *testing.T) {
	// 6*16+16 + 16*3+3
	assert.Equal(t, 163, TierMinimal.ParameterCount())
	// 6*32+32 + 32*32+32 + 32*3+3
	assert.Equal(t, 1379, TierLight.ParameterCount())
}

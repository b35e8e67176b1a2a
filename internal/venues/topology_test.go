package venues

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupVenueCaseInsensitive(t *testing.T) {
	v, ok := LookupVenue("BITHUMB")
	assert.True(t, ok)
	assert.Equal(t, VenueBithumb, v.ID)

	_, ok = LookupVenue("nonexistent")
	assert.False(t, ok)
}

func TestTransferTimeMinutesDefaultsForUnknownCoin(t *testing.T) {
	assert.Equal(t, DefaultTransferTimeMins, TransferTimeMinutes("NOTACOIN"))
	assert.Equal(t, 30, TransferTimeMinutes("BTC"))
}

func TestTopologyHasFiveVenuesAndElevenCoins(t *testing.T) {
	assert.Len(t, Topology, 5)
	assert.Len(t, TrackedSymbols, 11)
}

func TestExchangeIsKorean(t *testing.T) {
	assert.True(t, Topology[VenueBithumb].IsKorean())
	assert.False(t, Topology[VenueBinance].IsKorean())
}

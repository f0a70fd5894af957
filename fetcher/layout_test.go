package fetcher

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmsleuth/sleuth/core/tracker"
)

func TestParseSolcLayout(t *testing.T) {
	doc := []byte(`{
		"storage": [
			{"label": "owner", "slot": "0", "offset": 0, "type": "t_address"},
			{"label": "feeRate", "slot": "3", "offset": 0, "type": "t_uint256"}
		]
	}`)
	layout, err := ParseSolcLayout(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, layout.Len())

	name, ok := layout.NameOf(tracker.Slot{U: uint256.NewInt(0)})
	require.True(t, ok)
	assert.Equal(t, "owner", name)
	name, ok = layout.NameOf(tracker.Slot{U: uint256.NewInt(3)})
	require.True(t, ok)
	assert.Equal(t, "feeRate", name)
}

func TestParseSolcLayoutEmpty(t *testing.T) {
	layout, err := ParseSolcLayout([]byte(`{}`))
	require.NoError(t, err)
	assert.Zero(t, layout.Len())
}

func TestParseSolcLayoutRejectsBadInput(t *testing.T) {
	_, err := ParseSolcLayout([]byte(`{"storage": [`))
	require.Error(t, err)

	_, err = ParseSolcLayout([]byte(`{"storage": [{"label": "x", "slot": "not-a-number"}]}`))
	require.Error(t, err)
}

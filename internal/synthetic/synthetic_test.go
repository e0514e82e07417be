package synthetic

import (
	"testing"

	"github.com/ChuLiYu/ledger-preexec/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironment_AddEntryAndLookup(t *testing.T) {
	env := NewEnvironment()
	ok := env.AddEntry("addr1", types.Account{Address: "addr1", Balance: 10})
	assert.True(t, ok)

	acc, ok := env.Lookup("addr1")
	require.True(t, ok)
	assert.Equal(t, uint64(10), acc.Balance)
	assert.Equal(t, 1, env.Len())
}

func TestEnvironment_AddEntryRejectsEmptyAddress(t *testing.T) {
	env := NewEnvironment()
	assert.False(t, env.AddEntry("", types.Account{}))
	assert.Equal(t, 0, env.Len())
}

func TestRandomKeyGenerator_NewAddress(t *testing.T) {
	gen := RandomKeyGenerator{}
	a, err := gen.NewAddress()
	require.NoError(t, err)
	assert.True(t, IsValidAddress(a))

	b, err := gen.NewAddress()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIsValidAddress(t *testing.T) {
	gen := RandomKeyGenerator{}
	valid, err := gen.NewAddress()
	require.NoError(t, err)

	assert.True(t, IsValidAddress(valid))
	assert.False(t, IsValidAddress(""))
	assert.False(t, IsValidAddress("not-hex-and-too-short"))
	assert.False(t, IsValidAddress(valid+"ff"))
}

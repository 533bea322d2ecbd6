package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEAD_RoundTrip(t *testing.T) {
	s, err := NewAEAD("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := s.Seal("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	again, err := s.Seal("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestAEAD_WrongKey(t *testing.T) {
	a, _ := NewAEAD("one")
	b, _ := NewAEAD("two")

	sealed, err := a.Seal("token")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestAEAD_Malformed(t *testing.T) {
	s, _ := NewAEAD("k")

	for _, in := range []string{"", "plain", "v1:!!!", "v1:AAAA"} {
		_, err := s.Open(in)
		assert.Error(t, err, in)
	}

	_, err := NewAEAD("")
	assert.Error(t, err)
}

package secretstore

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	st, err := Open(OpenOptions{Path: t.TempDir(), EncryptionKey: key})
	require.NoError(t, err)
	defer st.Close()

	_, ok, err := st.GetString(KeyMnemonic)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SetString(KeyMnemonic, "abandon ability"))
	v, ok, err := st.GetString(KeyMnemonic)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abandon ability", v)

	require.NoError(t, st.SetString(KeyMasterKey, ""))
	_, ok, err = st.GetString(KeyMasterKey)
	require.NoError(t, err)
	assert.True(t, ok, "empty values are still present")

	require.NoError(t, st.Delete(KeyMnemonic))
	_, ok, err = st.GetString(KeyMnemonic)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 0xab

	b, err := ParseKey("0x" + strings.Repeat("00", 31) + "ff")
	require.NoError(t, err)
	assert.Len(t, b, 32)

	b, err = ParseKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, b)

	b, err = ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

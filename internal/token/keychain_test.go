package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeychainRecord(t *testing.T) {
	pair, err := parseKeychainRecord([]byte(`{"access_token":"A1","refresh_token":"R1","expires_at":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, "A1", pair.AccessToken)
	assert.Equal(t, "R1", pair.RefreshToken)
	assert.Equal(t, int64(1700000000000), pair.ExpiresAt.UnixMilli())
}

func TestParseKeychainRecordRejectsPartialPair(t *testing.T) {
	_, err := parseKeychainRecord([]byte(`{"access_token":"A1"}`))
	assert.Error(t, err)
}

func TestNewKeychainStoreDefaults(t *testing.T) {
	ks := NewKeychainStore("driver-42")
	assert.Equal(t, keychainService, ks.Service)
	assert.Equal(t, "driver-42", ks.Account)
}

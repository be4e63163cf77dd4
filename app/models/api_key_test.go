package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserIssueAPIKey(t *testing.T) {
	u := &User{ID: 1}

	key, err := u.IssueAPIKey()
	require.NoError(t, err)
	require.NotEmpty(t, key)

	assert.NotEmpty(t, u.APIKeyHash)
	assert.NotEmpty(t, u.APIKeyPrefix)
	assert.NotNil(t, u.APIKeyCreatedAt)
	assert.Nil(t, u.APIKeyLastUsedAt)
	assert.True(t, u.HasActiveAPIKey())
	assert.Equal(t, HashAPIKey(key), u.APIKeyHash)
}

func TestUserRevokeAPIKey(t *testing.T) {
	u := &User{ID: 99}
	_, err := u.IssueAPIKey()
	require.NoError(t, err)

	u.RevokeAPIKey()

	assert.False(t, u.HasActiveAPIKey())
	assert.Equal(t, "", u.APIKeyHash)
	assert.Equal(t, "", u.APIKeyPrefix)
	assert.NotNil(t, u.APIKeyRevokedAt)
}

package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOwnerSeedEnv(t *testing.T) {
	clear := func(t *testing.T) {
		t.Helper()
		t.Setenv("ADMIN_NAME", "")
		t.Setenv("ADMIN_EMAIL", "")
		t.Setenv("ADMIN_PASSWORD", "")
	}

	t.Run("unset skips seeding", func(t *testing.T) {
		clear(t)
		name, email, password, err := ownerSeedEnv()
		require.NoError(t, err)
		require.Empty(t, name)
		require.Empty(t, email)
		require.Empty(t, password)
	})

	t.Run("email without password fails", func(t *testing.T) {
		clear(t)
		t.Setenv("ADMIN_EMAIL", "owner@x.com")
		_, _, _, err := ownerSeedEnv()
		require.Error(t, err)
		require.Contains(t, err.Error(), "required together")
	})

	t.Run("password without email fails", func(t *testing.T) {
		clear(t)
		t.Setenv("ADMIN_PASSWORD", "hunter22hunter22")
		_, _, _, err := ownerSeedEnv()
		require.Error(t, err)
		require.Contains(t, err.Error(), "required together")
	})

	t.Run("complete config", func(t *testing.T) {
		clear(t)
		t.Setenv("ADMIN_EMAIL", " Owner@X.com ")
		t.Setenv("ADMIN_PASSWORD", "hunter22hunter22")
		name, email, password, err := ownerSeedEnv()
		require.NoError(t, err)
		require.Equal(t, "Owner", name)
		require.Equal(t, "owner@x.com", email)
		require.Equal(t, "hunter22hunter22", password)
	})

	t.Run("explicit name kept", func(t *testing.T) {
		clear(t)
		t.Setenv("ADMIN_NAME", "Root Admin")
		t.Setenv("ADMIN_EMAIL", "owner@x.com")
		t.Setenv("ADMIN_PASSWORD", "hunter22hunter22")
		name, _, _, err := ownerSeedEnv()
		require.NoError(t, err)
		require.Equal(t, "Root Admin", name)
	})
}

package secrets_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/services/secrets"
	inmemdb "github.com/roxnlabs/mentora/storage/inmem"
)

func newVault(t *testing.T, repo secrets.Repository, masterKey string) *secrets.Vault {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Secrets.MasterKey = masterKey
	v, err := secrets.NewVault(conf, repo)
	require.NoError(t, err)
	return v
}

func TestNewVault(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Secrets.MasterKey = ""
	_, err := secrets.NewVault(conf, nil)
	assert.Equal(t, secrets.ErrNoMasterKey, err)
}

func TestVault(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewSecretRepository(inmemdb.Open())
	v := newVault(t, repo, "master")

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	secrets.NowFunc = func() time.Time { return created }
	defer func() { secrets.NowFunc = time.Now }()

	require.NoError(t, v.Set(ctx, "sendgrid_api_key", "SG.secret"))
	require.NoError(t, v.Set(ctx, "rollbar.token", "rb"))
	assert.Equal(t, secrets.ErrInvalidName, v.Set(ctx, "bad name!", "x"))

	val, err := v.Get(ctx, "sendgrid_api_key")
	require.NoError(t, err)
	assert.Equal(t, "SG.secret", val)

	sealed, err := repo.GetSecret(ctx, "sendgrid_api_key")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.Ciphertext), "SG.secret")

	// overwriting keeps the creation date
	updated := created.Add(time.Hour)
	secrets.NowFunc = func() time.Time { return updated }
	require.NoError(t, v.Set(ctx, "sendgrid_api_key", "SG.rotated"))
	infos, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "rollbar.token", infos[0].Name)
	assert.Equal(t, "sendgrid_api_key", infos[1].Name)
	assert.Equal(t, created, infos[1].CreatedAt)
	assert.Equal(t, updated, infos[1].UpdatedAt)

	t.Run("wrong master key", func(t *testing.T) {
		other := newVault(t, repo, "not-the-master")
		_, err := other.Get(ctx, "sendgrid_api_key")
		assert.Equal(t, secrets.ErrDecrypt, err)
	})

	t.Run("moved ciphertext", func(t *testing.T) {
		sealed, err := repo.GetSecret(ctx, "rollbar.token")
		require.NoError(t, err)
		sealed.Name = "stolen"
		require.NoError(t, repo.PutSecret(ctx, sealed))
		_, err = v.Get(ctx, "stolen")
		assert.Equal(t, secrets.ErrDecrypt, err)
	})

	t.Run("resolve", func(t *testing.T) {
		got, err := v.Resolve(ctx, "from-env", "sendgrid_api_key")
		require.NoError(t, err)
		assert.Equal(t, "from-env", got)

		got, err = v.Resolve(ctx, "", "sendgrid_api_key")
		require.NoError(t, err)
		assert.Equal(t, "SG.rotated", got)

		got, err = v.Resolve(ctx, "", "missing")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	require.NoError(t, v.Delete(ctx, "rollbar.token"))
	_, err = v.Get(ctx, "rollbar.token")
	assert.Equal(t, secrets.ErrNotFound, errors.Cause(err))
	assert.Equal(t, secrets.ErrNotFound, errors.Cause(v.Delete(ctx, "rollbar.token")))
}

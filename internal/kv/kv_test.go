package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/duty-time-tracker/internal/kv"
)

func backends(t *testing.T) map[string]kv.Store {
	t.Helper()

	fileStore, err := kv.OpenFile(t.TempDir())
	require.NoError(t, err)

	sqlStore, err := kv.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]kv.Store{"file": fileStore, "sqlite": sqlStore}
}

func TestStoreContract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("missing key", func(t *testing.T) {
				v, ok, err := store.Get("serviceStatus_nobody")
				require.NoError(t, err)
				assert.False(t, ok)
				assert.Empty(t, v)
			})

			t.Run("set get overwrite remove", func(t *testing.T) {
				require.NoError(t, store.Set("serviceStatus_Alice", `{"isActive":false}`))
				require.NoError(t, store.Set("serviceStatus_Alice", `{"isActive":true,"startTime":1}`))

				v, ok, err := store.Get("serviceStatus_Alice")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, `{"isActive":true,"startTime":1}`, v)

				require.NoError(t, store.Remove("serviceStatus_Alice"))
				require.NoError(t, store.Remove("serviceStatus_Alice"))
				_, ok, err = store.Get("serviceStatus_Alice")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("keys by prefix", func(t *testing.T) {
				for _, k := range []string{"serviceHistory_Zoé", "serviceHistory_Bob", "servicehistory_lower", "lastSeen_Bob", "serviceHistory_a/b"} {
					require.NoError(t, store.Set(k, "[]"))
				}
				keys, err := store.Keys("serviceHistory_")
				require.NoError(t, err)
				assert.Equal(t, []string{"serviceHistory_Bob", "serviceHistory_Zoé", "serviceHistory_a/b"}, keys)
			})

			t.Run("transaction commits together", func(t *testing.T) {
				err := store.WithTransaction(context.Background(), func(tx kv.Tx) error {
					if err := tx.Set("serviceHistory_Carol", `[1]`); err != nil {
						return err
					}
					v, ok, err := tx.Get("serviceHistory_Carol")
					require.NoError(t, err)
					assert.True(t, ok)
					assert.Equal(t, `[1]`, v)
					return tx.Set("serviceStatus_Carol", `{"isActive":false,"startTime":null}`)
				})
				require.NoError(t, err)

				_, ok, err := store.Get("serviceHistory_Carol")
				require.NoError(t, err)
				assert.True(t, ok)
				_, ok, err = store.Get("serviceStatus_Carol")
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("transaction rolls back on error", func(t *testing.T) {
				boom := errors.New("boom")
				err := store.WithTransaction(context.Background(), func(tx kv.Tx) error {
					require.NoError(t, tx.Set("serviceHistory_Dave", `[1]`))
					require.NoError(t, tx.Remove("serviceHistory_Carol"))
					return boom
				})
				assert.ErrorIs(t, err, boom)

				_, ok, err := store.Get("serviceHistory_Dave")
				require.NoError(t, err)
				assert.False(t, ok)
				_, ok, err = store.Get("serviceHistory_Carol")
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("transaction sees its own removals in keys", func(t *testing.T) {
				err := store.WithTransaction(context.Background(), func(tx kv.Tx) error {
					require.NoError(t, tx.Remove("serviceHistory_Bob"))
					require.NoError(t, tx.Set("serviceHistory_Eve", "[]"))
					keys, err := tx.Keys("serviceHistory_")
					require.NoError(t, err)
					assert.Contains(t, keys, "serviceHistory_Eve")
					assert.NotContains(t, keys, "serviceHistory_Bob")
					return nil
				})
				require.NoError(t, err)
			})
		})
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpener hands out in-memory sqlite pools and fails for DSNs listed in fail
func fakeOpener(t *testing.T, fail ...string) opener {
	return func(ctx context.Context, dsn string, maxConns, minConns int, cfg ConnectionConfig) (*sql.DB, error) {
		for _, f := range fail {
			if f == dsn {
				return nil, errors.New("connection refused")
			}
		}
		db, err := sql.Open("sqlite3", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(maxConns)
		return db, nil
	}
}

func TestConnectionManager_AuthzReaderFallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("primary only", func(t *testing.T) {
		cm, err := newConnectionManager(ctx, ConnectionConfig{PrimaryURL: "primary", MaxConns: 4}, fakeOpener(t))
		require.NoError(t, err)
		defer cm.Close()

		assert.Same(t, cm.Primary(), cm.AuthzReader())
		assert.False(t, cm.HasDedicatedAuthzReader())
		assert.Len(t, cm.Pools(), 1)
	})

	t.Run("replica preferred over primary", func(t *testing.T) {
		cm, err := newConnectionManager(ctx, ConnectionConfig{
			PrimaryURL:  "primary",
			ReplicaURLs: []string{"r1"},
			MaxConns:    4,
		}, fakeOpener(t))
		require.NoError(t, err)
		defer cm.Close()

		assert.NotSame(t, cm.Primary(), cm.AuthzReader())
	})

	t.Run("dedicated reader", func(t *testing.T) {
		cm, err := newConnectionManager(ctx, ConnectionConfig{
			PrimaryURL:     "primary",
			AuthzReaderURL: "reader",
			ReplicaURLs:    []string{"r1"},
			MaxConns:       4,
		}, fakeOpener(t))
		require.NoError(t, err)
		defer cm.Close()

		assert.True(t, cm.HasDedicatedAuthzReader())
		reader := cm.AuthzReader()
		assert.Same(t, reader, cm.AuthzReader(), "dedicated reader is stable across calls")
		assert.Same(t, reader, cm.Pools()["authz_reader"])
		assert.Contains(t, cm.Pools(), "replica_0")
	})
}

func TestConnectionManager_FailedReplicaIsTolerated(t *testing.T) {
	cm, err := newConnectionManager(context.Background(), ConnectionConfig{
		PrimaryURL:  "primary",
		ReplicaURLs: []string{"bad", "good"},
		MaxConns:    4,
	}, fakeOpener(t, "bad"))
	require.NoError(t, err)
	defer cm.Close()

	require.Len(t, cm.ReplicaErrors(), 1)
	assert.Contains(t, cm.ReplicaErrors()[0].Error(), "replica 0")
	assert.NoError(t, cm.HealthCheck(context.Background()))
}

func TestConnectionManager_FailedAuthzReaderIsFatal(t *testing.T) {
	_, err := newConnectionManager(context.Background(), ConnectionConfig{
		PrimaryURL:     "primary",
		AuthzReaderURL: "reader",
		MaxConns:       4,
	}, fakeOpener(t, "reader"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authz reader")
}

func TestConnectionManager_FailedPrimaryIsFatal(t *testing.T) {
	_, err := newConnectionManager(context.Background(), ConnectionConfig{PrimaryURL: "primary"}, fakeOpener(t, "primary"))
	require.Error(t, err)
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	cm, err := newConnectionManager(context.Background(), ConnectionConfig{
		PrimaryURL:  "primary",
		ReplicaURLs: []string{"r1", "r2"},
		MaxConns:    4,
	}, fakeOpener(t))
	require.NoError(t, err)
	defer cm.Close()

	cm.replicas[0].Close()

	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Len(t, cm.replicas, 1)
}

func TestParseReplicaURLs(t *testing.T) {
	assert.Nil(t, ParseReplicaURLs(""))
	assert.Equal(t, []string{"a", "b"}, ParseReplicaURLs(" a, ,b "))
}

func TestReplicaPoolSize(t *testing.T) {
	assert.Equal(t, 2, replicaPoolSize(1))
	assert.Equal(t, 10, replicaPoolSize(20))
}

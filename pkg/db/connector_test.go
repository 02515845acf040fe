// Redis DB Connector tests in Lantern.

package db

import (
	"Lantern/pkg/log"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Global context
var ctx context.Context = context.Background()

func TestDbConnectionLifeCycle(t *testing.T) {
	server := miniredis.RunT(t)
	logger := log.Nop()

	client, dberr := NewDbConnection(ctx, logger, Options{Addr: server.Addr()})
	// Check if there were any issues returned from NewDbConnection
	require.NoError(t, dberr)
	assert.Equal(t, 3, client.GetMaxRetries())
	// Check if connection is successful
	assert.NoError(t, client.CheckDbConnection(ctx, logger))
	// Close connection
	assert.NoError(t, client.CloseDbConnection(ctx))
	// Check if connection is still active
	assert.Error(t, client.CheckDbConnection(ctx, logger))
}

func TestDbConnectionRequiresAddr(t *testing.T) {
	_, dberr := NewDbConnection(ctx, log.Nop(), Options{})
	assert.Error(t, dberr)
}

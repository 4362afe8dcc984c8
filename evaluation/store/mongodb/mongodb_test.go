//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package mongodb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"
)

func TestNewRequiresURI(t *testing.T) {
	_, err := New(context.Background())
	require.Error(t, err)
}

func TestNewWithInjectedClient(t *testing.T) {
	// Connect is lazy in the driver; no server is needed to construct a
	// client for injection.
	client, err := mongo.Connect(context.Background(),
		mongoopts.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)

	s, err := New(context.Background(), WithClient(client), WithDatabase("testdb"))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.False(t, s.ownsClient)

	// Close is a no-op when the client is injected.
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, client.Disconnect(context.Background()))
}

// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/relay/pkg/sealing"
)

func TestDefaultPopulatesRecommendedTimeouts(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultRPCTimeout, cfg.RPCTimeout)
	require.Equal(t, DefaultRelayTimeout, cfg.RelayTimeout)
	require.Equal(t, DefaultPeerConnectTimeout, cfg.PeerConnectTimeout)
	require.Equal(t, sealing.PolicyAll, cfg.SealPolicy)
	require.Equal(t, DefaultPoolMaxSize, cfg.PoolMaxSize)
	require.True(t, cfg.MinNativeThreshold.IsZero())
}

func TestDefaultListenAddrsAreNonEmpty(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.HTTPListenAddr)
	require.NotEmpty(t, cfg.BoundaryListenAddr)
	require.NotEqual(t, cfg.HTTPListenAddr, cfg.BoundaryListenAddr)
}

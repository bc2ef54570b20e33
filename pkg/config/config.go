// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the relay node's flat configuration struct and
// its defaults. Populating it from flags, environment variables or a file
// is an external CLI concern — cmd/relayd declares flag.* vars at package
// scope and fills in a Config the same way the teacher's cmd/adxd does,
// rather than this package reaching for a parser itself.
package config

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/relay/pkg/keyshare"
	"github.com/luxfi/relay/pkg/sealing"
)

// Config is the relay node's complete runtime configuration.
type Config struct {
	// Identity and attestation.
	ChainID       *big.Int
	MrEnclave     [32]byte
	SealPolicy    sealing.Policy
	IsvSvn        uint16
	CpuSvn        uint16
	GlobalKeyMode keyshare.Mode
	Peers         []keyshare.Peer

	// Persisted state.
	SealDir string // holds key.bin and eoa.bin

	// Chain RPC / oracle.
	RPCURL string

	// EOA pool and selection thresholds.
	Accounts           []common.Address
	MinNativeThreshold *uint256.Int

	// Relay (puzzle decrypt) endpoint.
	RelayURL string

	// HTTP API.
	HTTPListenAddr string

	// Enclave boundary (framed TCP).
	BoundaryListenAddr string

	// Signal pool capacity.
	PoolMaxSize int

	// Timeouts, per §5's recommended defaults.
	RPCTimeout         time.Duration
	RelayTimeout       time.Duration
	PeerConnectTimeout time.Duration

	LogLevel string
}

// Default values, mirroring the recommended timeouts called out for chain
// RPC, relay POST and peer-bootstrap connects.
const (
	DefaultRPCTimeout         = 30 * time.Second
	DefaultRelayTimeout       = 30 * time.Second
	DefaultPeerConnectTimeout = 5 * time.Second
	DefaultPoolMaxSize        = 256
	DefaultHTTPListenAddr     = ":8443"
	DefaultBoundaryListenAddr = ":8444"
	DefaultSealDir            = "/var/lib/relay/seal"
	DefaultLogLevel           = "info"
)

// Default returns a Config populated with every recommended default. The
// caller still must supply ChainID, MrEnclave, RPCURL, RelayURL and
// Accounts — there is no safe default for any of those.
func Default() Config {
	return Config{
		SealPolicy:         sealing.PolicyAll,
		SealDir:            DefaultSealDir,
		MinNativeThreshold: uint256.NewInt(0),
		HTTPListenAddr:     DefaultHTTPListenAddr,
		BoundaryListenAddr: DefaultBoundaryListenAddr,
		PoolMaxSize:        DefaultPoolMaxSize,
		RPCTimeout:         DefaultRPCTimeout,
		RelayTimeout:       DefaultRelayTimeout,
		PeerConnectTimeout: DefaultPeerConnectTimeout,
		LogLevel:           DefaultLogLevel,
	}
}

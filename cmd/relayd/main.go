// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"crypto/ecdsa"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/luxfi/relay/pkg/api"
	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/boundary"
	"github.com/luxfi/relay/pkg/choreography"
	"github.com/luxfi/relay/pkg/config"
	"github.com/luxfi/relay/pkg/keyshare"
	"github.com/luxfi/relay/pkg/log"
	"github.com/luxfi/relay/pkg/metric"
	"github.com/luxfi/relay/pkg/oracle"
	"github.com/luxfi/relay/pkg/orchestrator"
	"github.com/luxfi/relay/pkg/puzzle"
	"github.com/luxfi/relay/pkg/sealing"
	"github.com/luxfi/relay/pkg/signal"
)

var (
	dataDir            = flag.String("data-dir", config.DefaultSealDir, "Directory holding sealed key.bin/eoa.bin and the collateral/identity material")
	chainID            = flag.Int64("chain-id", 1, "EVM chain ID")
	mrEnclaveHex       = flag.String("mr-enclave", "", "Hex-encoded 32-byte MR-ENCLAVE measurement")
	globalKeyMode      = flag.String("global-key-mode", "generate", "Global key init mode: generate, peer-bootstrap, unseal")
	peerList           = flag.String("peers", "", "Comma-separated host:port list for peer-bootstrap")
	eoaKeysHex         = flag.String("eoa-keys", "", "Comma-separated hex-encoded EOA private keys (debug-raw init mode)")
	rpcURL             = flag.String("rpc-url", "", "Chain JSON-RPC endpoint")
	relayURL           = flag.String("relay-url", "", "Puzzle relay endpoint")
	minNativeThreshold = flag.String("min-native-threshold", "0", "Minimum native-coin balance, in wei, for an EOA to be eligible")
	poolMaxSize        = flag.Int("pool-max-size", config.DefaultPoolMaxSize, "Signal pool bag capacity")
	httpListenAddr     = flag.String("http-listen", config.DefaultHTTPListenAddr, "HTTP API listen address")
	boundaryListenAddr = flag.String("boundary-listen", config.DefaultBoundaryListenAddr, "Enclave boundary listen address")
	logLevel           = flag.String("log-level", config.DefaultLogLevel, "Log level")

	// Version info, set by the release pipeline via -ldflags.
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Node wires together a single relay enclave's full runtime: the key
// manager, the orchestrator serving sampled signals and keyshare requests,
// the HTTP API and the enclave boundary listener, following the same
// component-struct-plus-Start/Shutdown shape as the teacher's own daemon.
type Node struct {
	mu sync.RWMutex

	cfg    config.Config
	keyMgr *keyshare.Manager
	pool   *signal.Pool
	orch   *orchestrator.Orchestrator

	httpServer  *http.Server
	boundarySrv *boundary.Server
	boundaryLn  net.Listener

	log     log.Logger
	metrics *metric.Metrics
}

func main() {
	flag.Parse()
	fmt.Printf("relayd %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

	if *mrEnclaveHex == "" {
		fmt.Println("Error: --mr-enclave is required")
		os.Exit(1)
	}
	if *rpcURL == "" || *relayURL == "" {
		fmt.Println("Error: --rpc-url and --relay-url are required")
		os.Exit(1)
	}

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	node, err := NewNode(logger)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to create node: %v", err))
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		logger.Error(fmt.Sprintf("failed to start node: %v", err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := node.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("error during shutdown: %v", err))
	}
}

// NewNode builds a Node from the package-scope flags, performing the
// global key lifecycle step (generate/peer-bootstrap/unseal), loading the
// EOA keyring, and wiring the orchestrator. It builds neither the API
// router nor the boundary server and starts no network listener; Start
// does both.
func NewNode(logger log.Logger) (*Node, error) {
	var mrEnclave [32]byte
	mrBytes, err := hex.DecodeString(*mrEnclaveHex)
	if err != nil || len(mrBytes) != 32 {
		return nil, fmt.Errorf("relayd: --mr-enclave must be 32 bytes of hex")
	}
	copy(mrEnclave[:], mrBytes)

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("relayd: creating data dir: %w", err)
	}

	identity, err := loadOrCreateIdentity(*dataDir)
	if err != nil {
		return nil, err
	}
	collateral, err := loadOrCreateCollateralKey(*dataDir)
	if err != nil {
		return nil, err
	}

	keyMgr := keyshare.NewManager(identity, collateral, mrEnclave, uint64(*chainID))
	if err := initGlobalKey(keyMgr, *dataDir); err != nil {
		return nil, err
	}

	eoaKeys, err := loadEOAKeys(identity, *dataDir)
	if err != nil {
		return nil, err
	}
	if len(eoaKeys) < 2 {
		return nil, fmt.Errorf("relayd: at least 2 EOA keys are required, got %d", len(eoaKeys))
	}
	accounts := make([]common.Address, len(eoaKeys))
	for i, k := range eoaKeys {
		accounts[i] = crypto.PubkeyToAddress(k.PublicKey)
	}

	threshold := new(uint256.Int)
	if err := threshold.SetFromDecimal(*minNativeThreshold); err != nil {
		return nil, fmt.Errorf("relayd: invalid --min-native-threshold %q: %w", *minNativeThreshold, err)
	}

	metrics, err := metric.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("relayd: building metrics registry: %w", err)
	}
	pool := signal.NewPool(*poolMaxSize)
	oc := oracle.NewClient(*rpcURL)
	signer := choreography.NewLocalSigner(big.NewInt(*chainID), eoaKeys)

	orch, err := orchestrator.New(orchestrator.Config{
		Pool:               pool,
		Relay:              puzzle.NewHTTPRelayClient(),
		Oracle:             oc,
		Signer:             signer,
		KeyMgr:             keyMgr,
		Accounts:           accounts,
		MinNativeThreshold: threshold,
		ChainID:            big.NewInt(*chainID),
		Logger:             logger,
		Metrics:            metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("relayd: building orchestrator: %w", err)
	}

	return &Node{
		cfg:     config.Config{ChainID: big.NewInt(*chainID), MrEnclave: mrEnclave, SealDir: *dataDir},
		keyMgr:  keyMgr,
		pool:    pool,
		orch:    orch,
		log:     logger,
		metrics: metrics,
	}, nil
}

// Start spawns the orchestrator workers and the HTTP and boundary
// listeners.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.log.Info("starting relay node")
	n.orch.Start()

	router := api.NewRouter(api.Deps{
		KeyMgr:    n.keyMgr,
		Pool:      n.pool,
		MrEnclave: n.cfg.MrEnclave,
		ChainID:   n.cfg.ChainID.Uint64(),
		Version:   Version,
		Kind:      "relay",
		Logger:    n.log,
		Metrics:   n.metrics,
	})
	n.httpServer = &http.Server{Addr: *httpListenAddr, Handler: router}
	go func() {
		n.log.Info("http api listening")
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.log.Error(fmt.Sprintf("http server error: %v", err))
		}
	}()

	ln, err := net.Listen("tcp", *boundaryListenAddr)
	if err != nil {
		return fmt.Errorf("relayd: boundary listen: %w", err)
	}
	n.boundaryLn = ln
	n.boundarySrv = boundary.NewServer(n.keyMgr, n.log)
	go func() {
		n.log.Info("enclave boundary listening")
		if err := n.boundarySrv.Serve(ln); err != nil {
			n.log.Error(fmt.Sprintf("boundary server error: %v", err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, the boundary listener and
// the orchestrator, in that order so in-flight HTTP requests still reach
// a live orchestrator while they drain.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	n.log.Info("shutting down relay node")
	if n.httpServer != nil {
		if err := n.httpServer.Shutdown(ctx); err != nil {
			n.log.Error(fmt.Sprintf("http server shutdown error: %v", err))
		}
	}
	if n.boundarySrv != nil {
		if err := n.boundarySrv.Close(); err != nil {
			n.log.Error(fmt.Sprintf("boundary server shutdown error: %v", err))
		}
	}
	n.orch.Stop()
	return nil
}

func initGlobalKey(keyMgr *keyshare.Manager, dataDir string) error {
	keyPath := dataDir + "/key.bin"

	switch *globalKeyMode {
	case "generate":
		if err := keyMgr.Generate(); err != nil {
			return err
		}
		blob, err := keyMgr.Seal(sealing.PolicyAll, 1, 1)
		if err != nil {
			return err
		}
		return os.WriteFile(keyPath, blob, 0o600)

	case "unseal":
		blob, err := os.ReadFile(keyPath)
		if err != nil {
			return fmt.Errorf("relayd: reading sealed global key: %w", err)
		}
		return keyMgr.Unseal(sealing.PolicyAll, sealing.SealedBlob(blob))

	case "peer-bootstrap":
		peers, err := parsePeerList(*peerList)
		if err != nil {
			return err
		}
		transport := boundary.NewTCPTransport(config.DefaultPeerConnectTimeout)
		if err := keyMgr.PeerBootstrap(transport, peers); err != nil {
			return err
		}
		blob, err := keyMgr.Seal(sealing.PolicyAll, 1, 1)
		if err != nil {
			return err
		}
		return os.WriteFile(keyPath, blob, 0o600)

	default:
		return fmt.Errorf("relayd: unknown --global-key-mode %q", *globalKeyMode)
	}
}

func parsePeerList(csv string) ([]keyshare.Peer, error) {
	if csv == "" {
		return nil, fmt.Errorf("relayd: --peers is required for peer-bootstrap mode")
	}
	parts := strings.Split(csv, ",")
	peers := make([]keyshare.Peer, 0, len(parts))
	for _, p := range parts {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("relayd: invalid peer %q: %w", p, err)
		}
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return nil, fmt.Errorf("relayd: peer %q must be an IPv4 host:port", p)
		}
		var port uint16
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			return nil, fmt.Errorf("relayd: invalid peer port %q: %w", p, err)
		}
		var peer keyshare.Peer
		copy(peer.IP[:], ip)
		peer.Port = port
		peers = append(peers, peer)
	}
	return peers, nil
}

func loadEOAKeys(identity sealing.IdentityKey, dataDir string) ([]*ecdsa.PrivateKey, error) {
	if *eoaKeysHex != "" {
		parts := strings.Split(*eoaKeysHex, ",")
		keys := make([]*ecdsa.PrivateKey, 0, len(parts))
		for _, hexKey := range parts {
			priv, err := crypto.HexToECDSA(strings.TrimSpace(strings.TrimPrefix(hexKey, "0x")))
			if err != nil {
				return nil, fmt.Errorf("relayd: invalid --eoa-keys entry: %w", err)
			}
			keys = append(keys, priv)
		}
		blob, err := boundary.SealEOAList(identity, sealing.PolicyAll, 1, 1, keys)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(dataDir+"/eoa.bin", blob, 0o600); err != nil {
			return nil, err
		}
		return keys, nil
	}

	blob, err := os.ReadFile(dataDir + "/eoa.bin")
	if err != nil {
		return nil, fmt.Errorf("relayd: no --eoa-keys given and %s/eoa.bin is unreadable: %w", dataDir, err)
	}

	// Feed HandleEOAInit the same mode-byte-then-frame shape it reads off
	// a live boundary connection, even though here both ends are this
	// same process.
	req := make([]byte, 0, 1+4+len(blob))
	req = append(req, byte(boundary.EOAModeUnseal))
	req = append(req, encodeU32(len(blob))...)
	req = append(req, blob...)
	return boundary.HandleEOAInit(bytes.NewReader(req), identity, sealing.PolicyAll)
}

func encodeU32(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func loadOrCreateIdentity(dataDir string) (sealing.IdentityKey, error) {
	path := dataDir + "/identity.bin"
	var identity sealing.IdentityKey
	b, err := os.ReadFile(path)
	if err == nil && len(b) == len(identity) {
		copy(identity[:], b)
		return identity, nil
	}
	if _, genErr := cryptorand.Read(identity[:]); genErr != nil {
		return identity, genErr
	}
	if err := os.WriteFile(path, identity[:], 0o600); err != nil {
		return identity, err
	}
	return identity, nil
}

func loadOrCreateCollateralKey(dataDir string) (*attestation.CollateralKey, error) {
	path := dataDir + "/collateral.bin"
	b, err := os.ReadFile(path)
	if err == nil {
		return attestation.LoadCollateralKey(b)
	}
	ck, genErr := attestation.GenerateCollateralKey()
	if genErr != nil {
		return nil, genErr
	}
	if err := os.WriteFile(path, ck.PrivateKeyBytes(), 0o600); err != nil {
		return nil, err
	}
	return ck, nil
}

// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orchestrator wires the signal pool, the puzzle decryptor, the
// EOA selector and the choreography state machine into the enclave's two
// worker loops, modeled on cmd/adxd's Node struct wiring DAG/Enclave/
// BudgetMgr/FreqMgr together at construction time and starting goroutine
// loops from Start().
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/choreography"
	"github.com/luxfi/relay/pkg/eoa"
	"github.com/luxfi/relay/pkg/keyshare"
	"github.com/luxfi/relay/pkg/log"
	"github.com/luxfi/relay/pkg/metric"
	"github.com/luxfi/relay/pkg/oracle"
	"github.com/luxfi/relay/pkg/puzzle"
	"github.com/luxfi/relay/pkg/signal"
	"github.com/luxfi/relay/pkg/vm"
)

// ErrShuttingDown is returned by RequestKeyShare once Stop has been called.
var ErrShuttingDown = errors.New("orchestrator: shutting down, no longer accepting key-share requests")

// Config bundles everything the orchestrator needs from the rest of the
// enclave process.
type Config struct {
	Pool   *signal.Pool
	Relay  puzzle.RelayClient
	Oracle oracle.ChainOracle
	Signer choreography.Signer
	KeyMgr *keyshare.Manager

	// Accounts lists every enclave-held EOA address eligible for
	// selection; balances are queried fresh per signal.
	Accounts           []common.Address
	MinNativeThreshold *uint256.Int
	ChainID            *big.Int

	Logger  log.Logger
	Metrics *metric.Metrics
	HTTP    *http.Client
}

type keyShareJob struct {
	quote  attestation.Quote
	result chan<- keyShareResult
}

type keyShareResult struct {
	ciphertext []byte
	err        error
}

// Orchestrator serves two queues — sampled signals from the pool and
// key-share requests submitted through RequestKeyShare — never running more than
// one choreography at a time, since EOA nonces and balances are shared
// state that concurrent choreographies would interleave unsafely.
type Orchestrator struct {
	pool   *signal.Pool
	relay  puzzle.RelayClient
	oracle oracle.ChainOracle
	signer choreography.Signer
	keyMgr *keyshare.Manager

	accounts           []common.Address
	minNativeThreshold *uint256.Int
	chainID            *big.Int
	ledger             *eoa.Ledger

	logger  log.Logger
	metrics *metric.Metrics
	http    *http.Client

	// machine belongs exclusively to the signal-processing goroutine; the
	// single-choreography invariant gives it the same non-preemption
	// property a dedicated OS thread would, without a separate mailbox.
	machine *vm.VM

	keyShareCh   chan keyShareJob
	stopKeyShare chan struct{}

	shutdown atomic.Bool
	wg       sync.WaitGroup

	attemptMu   sync.Mutex
	lastAttempt *choreography.Attempt
	processed   uint64
}

// New validates the configuration and constructs an Orchestrator. Start
// must be called to begin serving either queue.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Pool == nil {
		return nil, errors.New("orchestrator: Pool is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("orchestrator: Oracle is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("orchestrator: Signer is required")
	}
	if cfg.KeyMgr == nil {
		return nil, errors.New("orchestrator: KeyMgr is required")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("orchestrator: ChainID is required")
	}
	if cfg.MinNativeThreshold == nil {
		cfg.MinNativeThreshold = uint256.NewInt(0)
	}
	if cfg.Relay == nil {
		cfg.Relay = puzzle.NewHTTPRelayClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoOp()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 10 * time.Second}
	}

	return &Orchestrator{
		pool:               cfg.Pool,
		relay:              cfg.Relay,
		oracle:             cfg.Oracle,
		signer:             cfg.Signer,
		keyMgr:             cfg.KeyMgr,
		accounts:           cfg.Accounts,
		minNativeThreshold: cfg.MinNativeThreshold,
		chainID:            cfg.ChainID,
		ledger:             eoa.NewLedger(),
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
		http:               cfg.HTTP,
		machine:            vm.New(),
		keyShareCh:         make(chan keyShareJob),
		stopKeyShare:       make(chan struct{}),
	}, nil
}

// Start spawns the signal worker and the key-share worker. Both run until
// Stop is called.
func (o *Orchestrator) Start() {
	o.wg.Add(2)
	go o.runSignalWorker()
	go o.runKeyShareWorker()
}

// Stop begins cooperative shutdown: the pool is closed (waking a blocked
// Sample and causing the signal worker to exit once its current
// choreography, if any, completes), the key-share worker is told to stop
// accepting new work, and Stop blocks until both workers have returned.
// In-flight work is allowed to finish; nothing is cancelled mid-flight.
func (o *Orchestrator) Stop() {
	o.shutdown.Store(true)
	o.pool.Close()
	close(o.stopKeyShare)
	o.wg.Wait()
}

// RequestKeyShare forwards a requester's client quote to the key-share
// manager and returns its ECIES-encrypted response. Returns ErrShuttingDown once Stop has been
// called, matching the documented "key-share server stops accepting" rule.
func (o *Orchestrator) RequestKeyShare(quote attestation.Quote) ([]byte, error) {
	if o.shutdown.Load() {
		return nil, ErrShuttingDown
	}
	result := make(chan keyShareResult, 1)
	select {
	case o.keyShareCh <- keyShareJob{quote: quote, result: result}:
	case <-o.stopKeyShare:
		return nil, ErrShuttingDown
	}
	res := <-result
	return res.ciphertext, res.err
}

// LastAttempt returns the most recently finished choreography attempt, or
// nil if none has run yet. Observability only; never persisted.
func (o *Orchestrator) LastAttempt() *choreography.Attempt {
	o.attemptMu.Lock()
	defer o.attemptMu.Unlock()
	return o.lastAttempt
}

// Processed reports how many signals have completed a choreography
// attempt (successful or not) since Start.
func (o *Orchestrator) Processed() uint64 {
	o.attemptMu.Lock()
	defer o.attemptMu.Unlock()
	return o.processed
}

func (o *Orchestrator) runSignalWorker() {
	defer o.wg.Done()
	for {
		payload, ok := o.pool.Sample()
		if !ok || o.shutdown.Load() {
			return
		}
		if o.metrics != nil {
			o.metrics.SignalsSampled.Inc()
		}
		o.processSignal(payload)
	}
}

func (o *Orchestrator) runKeyShareWorker() {
	defer o.wg.Done()
	for {
		select {
		case job := <-o.keyShareCh:
			ciphertext, err := o.keyMgr.ServeKeyShare(job.quote)
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			if o.metrics != nil {
				o.metrics.KeyshareAttempts.WithLabelValues(outcome).Inc()
			}
			job.result <- keyShareResult{ciphertext: ciphertext, err: err}
		case <-o.stopKeyShare:
			return
		}
	}
}

// processSignal decrypts (if needed), selects EOAs, and runs the full
// choreography for one sampled payload. Failures at any stage are logged,
// never propagated — the signal worker always moves on to the next sample.
// Decrypt-pipeline failures and choreography outcomes are also counted in
// metrics; balance-fetch and EOA-selection failures are only logged.
func (o *Orchestrator) processSignal(payload signal.Payload) {
	sig := payload.Unencrypted
	if payload.Encrypted != nil {
		start := time.Now()
		decrypted, err := puzzle.Decrypt(o.machine, o.relay, payload.Encrypted)
		if o.metrics != nil {
			o.metrics.PuzzleDuration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if o.metrics != nil {
				switch {
				case errors.Is(err, puzzle.ErrPuzzleFailure):
					o.metrics.PuzzleFailures.Inc()
				case errors.Is(err, puzzle.ErrRelayFailure):
					o.metrics.RelayFailures.Inc()
				default:
					o.metrics.DecryptFailures.Inc()
				}
			}
			o.logger.Warn("orchestrator: puzzle decrypt failed: " + err.Error())
			return
		}
		sig = decrypted
	}
	if sig == nil {
		o.logger.Warn("orchestrator: sampled payload carried neither an encrypted nor a plaintext signal")
		return
	}

	ctx := context.Background()
	accounts, err := o.fetchAccounts(ctx, sig.Token)
	if err != nil {
		o.logger.Warn("orchestrator: failed fetching account balances: " + err.Error())
		return
	}

	sel, err := eoa.Select(o.ledger, sig.Token, accounts, o.minNativeThreshold, sig.RewardAmount, sig.TransferAmount)
	if err != nil {
		o.logger.Warn("orchestrator: eoa selection failed: " + err.Error())
		return
	}
	o.logger.Info(fmt.Sprintf("orchestrator: selected eoa_1=%s eoa_2=%s bond=%s",
		sel.EOA1, sel.EOA2, eoa.WeiToDecimal(sel.Bond)))

	deps := choreography.Deps{
		Oracle:  o.oracle,
		Signer:  o.signer,
		ChainID: o.chainID,
		Logger:  o.logger,
		HTTP:    o.http,
	}

	start := time.Now()
	attempt, runErr := choreography.Run(ctx, deps, sig, sel, payload.Hash())
	if o.metrics != nil {
		o.metrics.ChoreographyDuration.Observe(time.Since(start).Seconds())
		o.metrics.ChoreographyOutcomes.WithLabelValues(string(attempt.State)).Inc()
	}

	o.attemptMu.Lock()
	o.lastAttempt = attempt
	o.processed++
	o.attemptMu.Unlock()

	if runErr != nil {
		o.logger.Warn("orchestrator: choreography failed: " + runErr.Error())
	}
}

// fetchAccounts queries native and token balances for every enclave-held
// EOA address against the signal's token, building the candidate list
// eoa.Select partitions and ranks.
func (o *Orchestrator) fetchAccounts(ctx context.Context, token common.Address) ([]eoa.Account, error) {
	accounts := make([]eoa.Account, 0, len(o.accounts))
	for _, addr := range o.accounts {
		native, err := o.oracle.NativeBalance(ctx, addr)
		if err != nil {
			return nil, err
		}
		tokenBal, err := oracle.TokenBalance(ctx, o.oracle, token, addr)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, eoa.Account{
			Address:       addr,
			NativeBalance: native,
			TokenBalance:  tokenBal,
		})
	}
	return accounts, nil
}

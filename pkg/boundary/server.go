// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package boundary

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/keyshare"
	"github.com/luxfi/relay/pkg/log"
)

// Server answers the key-share side of the boundary protocol: a peer
// asking for this enclave's quote, or presenting its own client quote in
// exchange for the live global secret. Signal and withdraw requests are
// accepted over the same framing but are not wired to the orchestrator
// here — the HTTP API is the supported ingress for those per the external
// interface table; a future CCR-local deployment can route them here
// instead without changing the wire format.
type Server struct {
	keyMgr *keyshare.Manager
	logger log.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer builds a boundary server over the given key manager.
func NewServer(keyMgr *keyshare.Manager, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NoOp()
	}
	return &Server{keyMgr: keyMgr, logger: logger}
}

// Serve accepts connections on ln until Close is called, handling each on
// its own goroutine. It blocks until the listener is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections. It does not wait for in-flight
// ones; Serve waits for them to finish before it returns.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	kind, body, err := readRequest(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Warn(fmt.Sprintf("boundary: read request failed: %v", err))
		}
		return
	}

	switch kind {
	case KindKeyshare:
		s.handleKeyshare(conn, body)
	case KindSignal, KindWithdraw:
		s.logger.Warn(fmt.Sprintf("boundary: request kind %d not routed on this listener", kind))
		_ = writeResponse(conn, nil)
	default:
		s.logger.Warn(fmt.Sprintf("boundary: unknown request kind %d", kind))
	}
}

func (s *Server) handleKeyshare(conn net.Conn, body []byte) {
	if len(body) == 0 {
		return
	}
	op, payload := keyshareOp(body[0]), body[1:]

	switch op {
	case opFetchQuote:
		quote, err := s.keyMgr.Quote()
		if err != nil {
			s.logger.Warn(fmt.Sprintf("boundary: quote request failed: %v", err))
			_ = writeResponse(conn, nil)
			return
		}
		_ = writeResponse(conn, attestation.EncodeQuote(quote))

	case opExchangeClientQuote:
		clientQuote, err := attestation.DecodeQuote(payload)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("boundary: malformed client quote: %v", err))
			_ = writeResponse(conn, nil)
			return
		}
		ciphertext, err := s.keyMgr.ServeKeyShare(clientQuote)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("boundary: serve key share failed: %v", err))
			_ = writeResponse(conn, nil)
			return
		}
		_ = writeResponse(conn, ciphertext)

	default:
		s.logger.Warn(fmt.Sprintf("boundary: unknown keyshare op %d", op))
	}
}

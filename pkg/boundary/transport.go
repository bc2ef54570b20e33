// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package boundary

import (
	"fmt"
	"net"
	"time"

	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/keyshare"
)

// keyshareOp distinguishes the two requests multiplexed onto KindKeyshare:
// a bare quote fetch, and a client-quote-for-ciphertext exchange.
type keyshareOp byte

const (
	opFetchQuote          keyshareOp = 0
	opExchangeClientQuote keyshareOp = 1
)

func peerAddr(p keyshare.Peer) string {
	ip := net.IPv4(p.IP[0], p.IP[1], p.IP[2], p.IP[3])
	return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", p.Port))
}

// TCPTransport implements keyshare.Transport over this package's framed
// protocol, one short-lived connection per request.
type TCPTransport struct {
	DialTimeout time.Duration
}

// NewTCPTransport builds a transport with the given per-peer dial timeout.
func NewTCPTransport(dialTimeout time.Duration) *TCPTransport {
	return &TCPTransport{DialTimeout: dialTimeout}
}

// FetchGlobalQuote dials peer and requests its live role=global quote.
func (t *TCPTransport) FetchGlobalQuote(peer keyshare.Peer) (attestation.Quote, error) {
	conn, err := net.DialTimeout("tcp", peerAddr(peer), t.DialTimeout)
	if err != nil {
		return attestation.Quote{}, err
	}
	defer conn.Close()

	if err := writeRequest(conn, KindKeyshare, []byte{byte(opFetchQuote)}); err != nil {
		return attestation.Quote{}, err
	}
	body, err := readResponse(conn)
	if err != nil {
		return attestation.Quote{}, err
	}
	return attestation.DecodeQuote(body)
}

// ExchangeClientQuote dials peer, presents our client quote and returns
// the ECIES ciphertext of the peer's global secret.
func (t *TCPTransport) ExchangeClientQuote(peer keyshare.Peer, clientQuote attestation.Quote) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", peerAddr(peer), t.DialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	body := append([]byte{byte(opExchangeClientQuote)}, attestation.EncodeQuote(clientQuote)...)
	if err := writeRequest(conn, KindKeyshare, body); err != nil {
		return nil, err
	}
	return readResponse(conn)
}

var _ keyshare.Transport = (*TCPTransport)(nil)

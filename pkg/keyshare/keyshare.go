// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package keyshare implements the global enclave key lifecycle: minting
// the shared secret at the first enclave, sealing it to stable storage,
// and bootstrapping it into new enclaves over a mutually-attested ECIES
// exchange with an existing peer. Modeled on the dispatch-by-mode shape of
// the teacher's NewEnclave constructor, generalized from an auction-sealing
// enclave to a key-custody one.
package keyshare

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/sealing"
)

// Errors returned by the key lifecycle operations.
var (
	ErrNoPeersSucceeded   = errors.New("keyshare: no peer produced a usable key")
	ErrDerivedKeyMismatch = errors.New("keyshare: decrypted secret does not match peer-attested public key")
	ErrWrongSealLabel     = errors.New("keyshare: blob was not sealed under the global key label")
)

// Sealing labels. Distinct per role so a misrouted unseal call fails
// cleanly instead of silently decrypting the wrong secret.
const (
	LabelGlobalSecret = "global_secret"
	LabelGlobalSeal   = "global_seal"
	LabelClientSecret = "client_secret"
)

// Mode selects how the global key is obtained at enclave startup.
type Mode int

const (
	ModeGenerate Mode = iota
	ModePeerBootstrap
	ModeUnseal
)

// Peer identifies a candidate key-share server to bootstrap from.
type Peer struct {
	IP   [4]byte
	Port uint16
}

// Transport is the black-box boundary to another enclave's key-share
// server: it performs one fetch-quote / send-quote / receive-secret
// exchange per peer. A real implementation dials the peer over TCP using
// pkg/boundary; tests supply an in-memory fake.
type Transport interface {
	// FetchGlobalQuote retrieves the peer's role=global attestation quote.
	FetchGlobalQuote(peer Peer) (attestation.Quote, error)
	// ExchangeClientQuote sends our role=client quote to the peer and
	// receives back the ECIES ciphertext of the global secret.
	ExchangeClientQuote(peer Peer, clientQuote attestation.Quote) ([]byte, error)
}

// Manager owns the enclave's identity material and the live global key.
type Manager struct {
	identity   sealing.IdentityKey
	collateral *attestation.CollateralKey
	mrEnclave  [32]byte
	chainID    uint64

	global *ecdsa.PrivateKey
}

// NewManager constructs a key-lifecycle manager. The global key is absent
// until one of Generate, PeerBootstrap or Unseal populates it.
func NewManager(identity sealing.IdentityKey, collateral *attestation.CollateralKey, mrEnclave [32]byte, chainID uint64) *Manager {
	return &Manager{identity: identity, collateral: collateral, mrEnclave: mrEnclave, chainID: chainID}
}

// HasGlobalKey reports whether the manager holds a live global key.
func (m *Manager) HasGlobalKey() bool {
	return m.global != nil
}

// GlobalPublicKey returns the compressed public key of the live global
// secret, or nil if none is loaded.
func (m *Manager) GlobalPublicKey() []byte {
	if m.global == nil {
		return nil
	}
	return crypto.CompressPubkey(&m.global.PublicKey)
}

// Generate derives a secp256k1 secret from the enclave identity under the
// global_secret label, as the first enclave in the fleet does. It does not
// seal; call Seal afterward to obtain the durable blob.
func (m *Manager) Generate() error {
	priv, err := deriveSecp256k1(m.identity, LabelGlobalSecret)
	if err != nil {
		return err
	}
	m.global = priv
	return nil
}

// Seal persists the live global key under the global_seal label.
func (m *Manager) Seal(policy sealing.Policy, isvSvn, cpuSvn uint16) (sealing.SealedBlob, error) {
	if m.global == nil {
		return nil, errors.New("keyshare: no global key to seal")
	}
	return sealing.Seal(m.identity, policy, LabelGlobalSeal, isvSvn, cpuSvn, crypto.FromECDSA(m.global))
}

// Unseal loads the global key from a previously-sealed blob, verifying the
// label implicitly through sealing.Unseal's AEAD binding.
func (m *Manager) Unseal(policy sealing.Policy, blob sealing.SealedBlob) error {
	plaintext, _, _, err := sealing.Unseal(m.identity, policy, LabelGlobalSeal, blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrongSealLabel, err)
	}
	priv, err := crypto.ToECDSA(plaintext)
	if err != nil {
		return err
	}
	m.global = priv
	return nil
}

// PeerBootstrap derives an ephemeral client key, attempts each peer in
// order, and adopts the first secret that verifies against the peer's
// attested public key. Quorum across peers is not implemented; see the
// design notes for why sequential-first-success was chosen over quorum.
func (m *Manager) PeerBootstrap(transport Transport, peers []Peer) error {
	clientPriv, err := deriveSecp256k1(m.identity, LabelClientSecret)
	if err != nil {
		return err
	}
	defer zeroKey(clientPriv)

	clientReport, err := attestation.NewReportBody(crypto.CompressPubkey(&clientPriv.PublicKey), false, attestation.RoleClient)
	if err != nil {
		return err
	}
	clientQuote, err := m.collateral.Quote(clientReport, m.mrEnclave, m.chainID)
	if err != nil {
		return err
	}

	for _, peer := range peers {
		peerQuote, err := transport.FetchGlobalQuote(peer)
		if err != nil {
			continue
		}
		if err := attestation.Verify(peerQuote, m.collateral.PublicKeyBytes(), m.mrEnclave, m.chainID, false, attestation.RoleGlobal); err != nil {
			continue
		}

		ciphertext, err := transport.ExchangeClientQuote(peer, clientQuote)
		if err != nil {
			continue
		}

		secretBytes, err := eciesDecrypt(clientPriv, ciphertext)
		if err != nil {
			continue
		}
		priv, err := crypto.ToECDSA(secretBytes)
		if err != nil {
			continue
		}

		expectedPub := peerQuote.Report.PublicKey()
		gotPub := crypto.CompressPubkey(&priv.PublicKey)
		if !bytesEqual(expectedPub, gotPub) {
			continue
		}

		m.global = priv
		return nil
	}

	return ErrNoPeersSucceeded
}

// Quote produces a fresh role=global attestation over the live public key,
// for the orchestrator to hand to the HTTP /attest endpoint or to a
// key-share server responding to a bootstrap request.
func (m *Manager) Quote() (attestation.Quote, error) {
	if m.global == nil {
		return attestation.Quote{}, errors.New("keyshare: no global key loaded")
	}
	report, err := attestation.NewReportBody(m.GlobalPublicKey(), false, attestation.RoleGlobal)
	if err != nil {
		return attestation.Quote{}, err
	}
	return m.collateral.Quote(report, m.mrEnclave, m.chainID)
}

// ServeKeyShare implements the provider side of a peer-bootstrap exchange:
// verify the requester's client quote, then ECIES-encrypt the live global
// secret to the requester's public key.
func (m *Manager) ServeKeyShare(clientQuote attestation.Quote) ([]byte, error) {
	if m.global == nil {
		return nil, errors.New("keyshare: no global key to share")
	}
	if err := attestation.Verify(clientQuote, m.collateral.PublicKeyBytes(), m.mrEnclave, m.chainID, false, attestation.RoleClient); err != nil {
		return nil, err
	}
	return eciesEncrypt(clientQuote.Report.PublicKey(), crypto.FromECDSA(m.global))
}

func deriveSecp256k1(identity sealing.IdentityKey, label string) (*ecdsa.PrivateKey, error) {
	seed := sealing.IdentityKey{}
	copy(seed[:], identity[:])
	// fold the label into the identity by hashing identity||label with
	// Keccak-256 (sealing's AES key instead hashes identity, policy and
	// label with SHA-256), then reduce to a valid secp256k1 scalar via go-ethereum's
	// ToECDSA, which rejects the (astronomically unlikely) zero/overflow
	// case the curve order imposes.
	material := append(append([]byte{}, seed[:]...), []byte(label)...)
	digest := crypto.Keccak256(material)
	priv, err := crypto.ToECDSA(digest)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

func zeroKey(k *ecdsa.PrivateKey) {
	if k == nil || k.D == nil {
		return
	}
	k.D.SetInt64(0)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

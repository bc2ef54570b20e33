// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package boundary

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/luxfi/relay/pkg/keyshare"
)

// errTooManyPeers is returned by writePeerList when the peer list exceeds
// the single-byte count prefix's range.
var errTooManyPeers = errors.New("boundary: peer list exceeds 255 entries")

// EOAInitMode selects how the enclave obtains its working EOA set at
// startup.
type EOAInitMode byte

const (
	EOAModeKYCList      EOAInitMode = 0
	EOAModeBootstrapNew EOAInitMode = 1
	EOAModeUnseal       EOAInitMode = 2
	EOAModeUnsealTopUp  EOAInitMode = 3
	EOAModeDebugRaw     EOAInitMode = 255
)

// GlobalKeyInitMode selects how the enclave obtains the global secret.
// The numbering matches keyshare.Mode so a caller can convert directly.
type GlobalKeyInitMode byte

const (
	GlobalModeGenerate      GlobalKeyInitMode = 0
	GlobalModePeerBootstrap GlobalKeyInitMode = 1
	GlobalModeUnseal        GlobalKeyInitMode = 2
)

// writePeerList encodes a peer list as u8 n || n x (u32 ip, u16 port).
func writePeerList(w io.Writer, peers []keyshare.Peer) error {
	if len(peers) > 255 {
		return errTooManyPeers
	}
	if _, err := w.Write([]byte{byte(len(peers))}); err != nil {
		return err
	}
	for _, p := range peers {
		var buf [6]byte
		copy(buf[:4], p.IP[:])
		binary.BigEndian.PutUint16(buf[4:], p.Port)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// readPeerList decodes a peer list written by writePeerList.
func readPeerList(r io.Reader) ([]keyshare.Peer, error) {
	var nBuf [1]byte
	if _, err := io.ReadFull(r, nBuf[:]); err != nil {
		return nil, err
	}
	n := int(nBuf[0])
	peers := make([]keyshare.Peer, n)
	for i := 0; i < n; i++ {
		var buf [6]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		copy(peers[i].IP[:], buf[:4])
		peers[i].Port = binary.BigEndian.Uint16(buf[4:])
	}
	return peers, nil
}

// debugRawEOAs decodes the debug mode's u8 n || n x 32-byte payload into n
// raw private keys.
func debugRawEOAs(r io.Reader) ([][32]byte, error) {
	var nBuf [1]byte
	if _, err := io.ReadFull(r, nBuf[:]); err != nil {
		return nil, err
	}
	n := int(nBuf[0])
	out := make([][32]byte, n)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, out[i][:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

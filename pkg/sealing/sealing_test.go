// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sealing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testIdentity() IdentityKey {
	var id IdentityKey
	for i := range id {
		id[i] = byte(i)
	}
	return id
}

func TestSealUnsealRoundTrip(t *testing.T) {
	id := testIdentity()
	plaintext := []byte("the global enclave secret key")

	blob, err := Seal(id, PolicyAll, "relay.key.global", 1, 2, plaintext)
	require.NoError(t, err)

	got, isvSvn, cpuSvn, err := Unseal(id, PolicyAll, "relay.key.global", blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
	require.Equal(t, uint16(1), isvSvn)
	require.Equal(t, uint16(2), cpuSvn)
}

func TestUnsealWrongLabelFails(t *testing.T) {
	id := testIdentity()
	blob, err := Seal(id, PolicyAll, "relay.key.global", 0, 0, []byte("secret"))
	require.NoError(t, err)

	_, _, _, err = Unseal(id, PolicyAll, "relay.key.other", blob)
	require.ErrorIs(t, err, ErrWrongLabel)
}

func TestUnsealWrongPolicyFails(t *testing.T) {
	id := testIdentity()
	blob, err := Seal(id, PolicyAll, "relay.key.global", 0, 0, []byte("secret"))
	require.NoError(t, err)

	_, _, _, err = Unseal(id, PolicyMrSigner, "relay.key.global", blob)
	require.ErrorIs(t, err, ErrWrongLabel)
}

func TestUnsealWrongIdentityFails(t *testing.T) {
	id := testIdentity()
	var other IdentityKey
	for i := range other {
		other[i] = byte(255 - i)
	}
	blob, err := Seal(id, PolicyAll, "relay.key.global", 0, 0, []byte("secret"))
	require.NoError(t, err)

	_, _, _, err = Unseal(other, PolicyAll, "relay.key.global", blob)
	require.ErrorIs(t, err, ErrWrongLabel)
}

func TestUnsealTruncatedBlobFails(t *testing.T) {
	id := testIdentity()
	_, _, _, err := Unseal(id, PolicyAll, "relay.key.global", SealedBlob{1, 2, 3})
	require.ErrorIs(t, err, ErrBlobTooShort)
}

func TestSealUnknownPolicyFails(t *testing.T) {
	id := testIdentity()
	_, err := Seal(id, Policy(99), "l", 0, 0, []byte("x"))
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

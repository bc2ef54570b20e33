// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package boundary

import (
	"bytes"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/sealing"
)

func TestQuoteRequestResponseRoundTrip(t *testing.T) {
	collateral, err := attestation.GenerateCollateralKey()
	require.NoError(t, err)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	report, err := attestation.NewReportBody(crypto.CompressPubkey(&priv.PublicKey), false, attestation.RoleGlobal)
	require.NoError(t, err)

	var reqBuf bytes.Buffer
	require.NoError(t, WriteQuoteRequest(&reqBuf, report))
	gotReport, err := ReadQuoteRequest(&reqBuf)
	require.NoError(t, err)
	require.Equal(t, report, gotReport)

	quote, err := collateral.Quote(report, [32]byte{}, 1)
	require.NoError(t, err)

	var respBuf bytes.Buffer
	require.NoError(t, WriteQuoteResponse(&respBuf, quote, []byte(`{"alg":"p256"}`)))
	gotQuote, collateralJSON, err := ReadQuoteResponse(&respBuf)
	require.NoError(t, err)
	require.Equal(t, quote, gotQuote)
	require.Equal(t, `{"alg":"p256"}`, string(collateralJSON))
}

func TestEOAInitDebugRaw(t *testing.T) {
	k1, err := crypto.GenerateKey()
	require.NoError(t, err)
	k2, err := crypto.GenerateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.WriteByte(byte(EOAModeDebugRaw))
	buf.WriteByte(2)
	buf.Write(crypto.FromECDSA(k1))
	buf.Write(crypto.FromECDSA(k2))

	keys, err := HandleEOAInit(&buf, sealing.IdentityKey{}, sealing.PolicyAll)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, crypto.FromECDSA(k1), crypto.FromECDSA(keys[0]))
	require.Equal(t, crypto.FromECDSA(k2), crypto.FromECDSA(keys[1]))
}

func TestEOAInitSealUnsealRoundTrip(t *testing.T) {
	identity := sealing.IdentityKey{0x09}
	k1, err := crypto.GenerateKey()
	require.NoError(t, err)
	k2, err := crypto.GenerateKey()
	require.NoError(t, err)
	keys := []*ecdsa.PrivateKey{k1, k2}

	blob, err := SealEOAList(identity, sealing.PolicyAll, 1, 1, keys)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.WriteByte(byte(EOAModeUnseal))
	require.NoError(t, writeFrame(&buf, blob))

	got, err := HandleEOAInit(&buf, identity, sealing.PolicyAll)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, crypto.FromECDSA(k1), crypto.FromECDSA(got[0]))
	require.Equal(t, crypto.FromECDSA(k2), crypto.FromECDSA(got[1]))
}

func TestEOAInitModeUnsupported(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(EOAModeKYCList))
	buf.Write([]byte{0, 0, 0, 0})

	_, err := HandleEOAInit(&buf, sealing.IdentityKey{}, sealing.PolicyAll)
	require.ErrorIs(t, err, ErrEOAInitModeUnsupported)
}

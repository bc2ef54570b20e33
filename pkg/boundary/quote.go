// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package boundary

import (
	"io"

	"github.com/luxfi/relay/pkg/attestation"
)

// WriteQuoteRequest sends the enclave's bare report body to the runner,
// which is expected to turn it into a signed quote plus collateral
// material from whatever quoting service it has access to.
func WriteQuoteRequest(w io.Writer, report attestation.ReportBody) error {
	return writeFrame(w, report[:])
}

// ReadQuoteRequest reads a report body sent by WriteQuoteRequest.
func ReadQuoteRequest(r io.Reader) (attestation.ReportBody, error) {
	var rb attestation.ReportBody
	body, err := readFrame(r)
	if err != nil {
		return rb, err
	}
	if len(body) != len(rb) {
		return rb, ErrFrameTooLarge
	}
	copy(rb[:], body)
	return rb, nil
}

// WriteQuoteResponse sends the signed quote followed by the collateral
// material back to the enclave.
func WriteQuoteResponse(w io.Writer, quote attestation.Quote, collateralJSON []byte) error {
	if err := writeFrame(w, attestation.EncodeQuote(quote)); err != nil {
		return err
	}
	return writeFrame(w, collateralJSON)
}

// ReadQuoteResponse reads a quote response written by WriteQuoteResponse.
func ReadQuoteResponse(r io.Reader) (attestation.Quote, []byte, error) {
	quoteBytes, err := readFrame(r)
	if err != nil {
		return attestation.Quote{}, nil, err
	}
	quote, err := attestation.DecodeQuote(quoteBytes)
	if err != nil {
		return attestation.Quote{}, nil, err
	}
	collateralJSON, err := readFrame(r)
	if err != nil {
		return attestation.Quote{}, nil, err
	}
	return quote, collateralJSON, nil
}

// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api implements the four-endpoint HTTP surface over gin-gonic/gin,
// the library the teacher's cmd/api already builds its JSON handlers on.
// Every handler is thin: marshal/unmarshal and call into pkg/attestation,
// pkg/keyshare and pkg/signal.
package api

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/keyshare"
	"github.com/luxfi/relay/pkg/log"
	"github.com/luxfi/relay/pkg/metric"
	"github.com/luxfi/relay/pkg/signal"
)

// Deps bundles everything the handlers read from or call into.
type Deps struct {
	KeyMgr *keyshare.Manager
	Pool   *signal.Pool

	MrEnclave   [32]byte
	ChainID     uint64
	Version     string
	Kind        string // node kind label reported by GET /
	IsBootstrap bool
	IsReadOnly  bool
	StartedAt   time.Time

	Logger  log.Logger
	Metrics *metric.Metrics
}

type handler struct {
	deps Deps
}

// NewRouter builds the gin.Engine serving GET /, GET /attest, POST /key and
// POST /signal.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = log.NoOp()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	h := &handler{deps: deps}
	r.GET("/", h.handleRoot)
	r.GET("/attest", h.handleAttest)
	r.POST("/key", h.handleKey)
	r.POST("/signal", h.handleSignal)
	return r
}

func (h *handler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"version":       h.deps.Version,
		"kind":          h.deps.Kind,
		"uptime_seconds": int64(time.Since(h.deps.StartedAt).Seconds()),
		"is_bootstrap":  h.deps.IsBootstrap,
		"is_read_only":  h.deps.IsReadOnly,
	})
}

type reportDTO struct {
	PublicKey string `json:"public_key"`
	ChainID   uint64 `json:"chain_id"`
	IsDebug   bool   `json:"is_debug"`
	IsGlobal  bool   `json:"is_global"`
}

type attestationDTO struct {
	Quote      string `json:"quote"`
	Collateral string `json:"collateral"`
}

type attestResponse struct {
	Attestation *attestationDTO `json:"attestation,omitempty"`
	Report      reportDTO       `json:"report"`
}

// handleAttest reports the live global key's attested identity. Before a
// global key is loaded there is nothing to attest yet: the quote is
// omitted and the report carries a zeroed, non-global placeholder.
func (h *handler) handleAttest(c *gin.Context) {
	if !h.deps.KeyMgr.HasGlobalKey() {
		c.JSON(http.StatusOK, attestResponse{
			Report: reportDTO{ChainID: h.deps.ChainID},
		})
		return
	}

	quote, err := h.deps.KeyMgr.Quote()
	if err != nil {
		c.String(http.StatusInternalServerError, "attest: %v", err)
		return
	}

	collateralJSON, err := collateralToJSON(quote)
	if err != nil {
		c.String(http.StatusInternalServerError, "attest: %v", err)
		return
	}

	c.JSON(http.StatusOK, attestResponse{
		Attestation: &attestationDTO{
			Quote:      hex.EncodeToString(attestation.EncodeQuote(quote)),
			Collateral: collateralJSON,
		},
		Report: reportDTO{
			PublicKey: hex.EncodeToString(quote.Report.PublicKey()),
			ChainID:   quote.ChainID,
			IsDebug:   quote.Report.Debug(),
			IsGlobal:  quote.Report.Role() == attestation.RoleGlobal,
		},
	})
}

func collateralToJSON(q attestation.Quote) (string, error) {
	return hex.EncodeToString(q.MrEnclave[:]), nil
}

type keyRequest struct {
	Quote string `json:"quote"`
}

// handleKey decodes a requester's attested client quote, verifies it and
// responds with the ECIES ciphertext of the live global secret.
func (h *handler) handleKey(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "key: invalid request body: %v", err)
		return
	}

	raw, err := hex.DecodeString(req.Quote)
	if err != nil {
		c.String(http.StatusBadRequest, "key: invalid hex quote: %v", err)
		return
	}
	quote, err := attestation.DecodeQuote(raw)
	if err != nil {
		c.String(http.StatusBadRequest, "key: invalid quote encoding: %v", err)
		return
	}

	ciphertext, err := h.deps.KeyMgr.ServeKeyShare(quote)
	if err != nil {
		c.String(http.StatusInternalServerError, "key: %v", err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", ciphertext)
}

// handleSignal decodes a SignalPayload tagged union and inserts it into the
// pool. Duplicates still acknowledge 200 — from the caller's perspective
// the signal is now known to the pool, whether this call or an earlier
// gossip message put it there.
func (h *handler) handleSignal(c *gin.Context) {
	var payload signal.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.String(http.StatusBadRequest, "signal: invalid request body: %v", err)
		return
	}
	if (payload.Encrypted == nil) == (payload.Unencrypted == nil) {
		c.String(http.StatusBadRequest, "signal: payload must carry exactly one of encrypted or unencrypted")
		return
	}

	inserted := h.deps.Pool.Insert(payload)
	if h.deps.Metrics != nil {
		if inserted {
			h.deps.Metrics.SignalsInserted.Inc()
		} else {
			h.deps.Metrics.SignalsDeduped.Inc()
		}
	}

	c.String(http.StatusOK, "Signal acknowledged")
}

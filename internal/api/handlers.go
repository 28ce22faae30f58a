// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/goccy/go-json"
)

// PaymentRequest is the demo endpoint's request body, intentionally
// trivial: the interesting behavior lives entirely in the idempotency
// middleware sitting in front of this handler, not in the handler itself.
type PaymentRequest struct {
	Amount int `json:"amount"`
}

// PaymentResponse is the demo endpoint's response body.
type PaymentResponse struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

// PaymentHandler is a POST endpoint where every successful call allocates
// a new payment ID, so a replayed response is observably different from a
// freshly executed one unless the idempotency middleware intercepts the
// retry first.
type PaymentHandler struct {
	counter atomic.Int64
}

// NewPaymentHandler constructs a PaymentHandler with a zeroed ID counter.
func NewPaymentHandler() *PaymentHandler {
	return &PaymentHandler{}
}

func (h *PaymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "malformed JSON body")
		return
	}

	id := h.counter.Add(1)
	NewResponseWriter(w, r).Created(PaymentResponse{
		ID:     "p-" + strconv.FormatInt(id, 10),
		Amount: req.Amount,
	})
}

// HealthLive answers a liveness probe unconditionally.
func HealthLive(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "live"})
}

// HealthReady answers a readiness probe. It checks no dependency, not
// even the store, so readiness mirrors liveness.
func HealthReady(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "ready"})
}

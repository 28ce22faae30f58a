// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentHandlerAllocatesIncrementingIDs(t *testing.T) {
	h := NewPaymentHandler()

	var ids []string
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount":100}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))

		data, ok := env.Data.(map[string]interface{})
		require.True(t, ok)
		ids = append(ids, data["id"].(string))
	}

	assert.Equal(t, []string{"p-1", "p-2", "p-3"}, ids)
}

func TestPaymentHandlerRejectsMalformedBody(t *testing.T) {
	h := NewPaymentHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpointsReportStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz/live", nil)
	rec := httptest.NewRecorder()
	HealthLive(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/healthz/ready", nil)
	rec2 := httptest.NewRecorder()
	HealthReady(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

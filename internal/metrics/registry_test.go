// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersWithoutPanic(t *testing.T) {
	require.NotPanics(t, func() {
		New()
	})
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	m1 := New()
	m2 := New()
	assert.NotSame(t, m1.Registry, m2.Registry)

	m1.Retransmits.Inc()
	m2.Retransmits.Inc()
	m2.Retransmits.Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(m1.Retransmits), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m2.Retransmits), 0)
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "sagemesh_crypto_operations_total")
}

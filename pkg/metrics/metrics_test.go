// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keycanary.
//
// go-keycanary is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEnabled(t *testing.T) {
	require.True(t, IsEnabled(), "metrics should be enabled by default")

	Disable()
	assert.False(t, IsEnabled())

	Enable()
	assert.True(t, IsEnabled())
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation(OpEncrypt, "internal/main", StatusSuccess, 0.01)
	RecordOperation(OpDecrypt, "hsm/primary", StatusError, 0.5)
	RecordOperation(OpDecrypt, "hsm/primary", StatusError, 0.5)

	assert.Equal(t, 2, testutil.CollectAndCount(OperationsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(OperationsTotal.WithLabelValues(OpDecrypt, "hsm/primary", StatusError)))
	assert.Equal(t, 2, testutil.CollectAndCount(OperationDuration))
}

func TestRecordWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	OperationsTotal.Reset()
	ReconnectsTotal.Reset()

	RecordOperation(OpEncrypt, "internal/main", StatusSuccess, 0.01)
	RecordReconnect("hsm/primary")

	assert.Equal(t, 0, testutil.CollectAndCount(OperationsTotal))
	assert.Equal(t, 0, testutil.CollectAndCount(ReconnectsTotal))
}

func TestRecordLifecycleMetrics(t *testing.T) {
	Enable()
	ReconnectsTotal.Reset()
	ReloadsTotal.Reset()
	ErrorsTotal.Reset()

	RecordReconnect("hsm/primary")
	RecordReload(StatusSuccess)
	RecordReload(StatusError)
	RecordError(OpDecrypt, "hsm/primary", "key_not_found")
	SetKeysTotal(3)

	before := testutil.ToFloat64(CanariesCreatedTotal)
	RecordCanaryCreated()
	ObserveCanaryWait(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(ReconnectsTotal.WithLabelValues("hsm/primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ReloadsTotal.WithLabelValues(StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ErrorsTotal.WithLabelValues(OpDecrypt, "hsm/primary", "key_not_found")))
	assert.Equal(t, 3.0, testutil.ToFloat64(KeysTotal))
	assert.Equal(t, before+1, testutil.ToFloat64(CanariesCreatedTotal))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, Status(nil))
	assert.Equal(t, StatusError, Status(errors.New("x")))
}

func TestHTTPMiddleware(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "503")))
}

func TestResourceCollector(t *testing.T) {
	Enable()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartResourceCollector(ctx, time.Hour)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(Goroutines) > 0
	}, time.Second, 10*time.Millisecond)
}

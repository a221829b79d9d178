// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/mdbridge/pkg/bridge"
	"github.com/Thermoquad/mdbridge/pkg/journal"
)

func testSnapshot() bridge.Snapshot {
	return bridge.Snapshot{
		VmcState:   "IDLE_WITH_CREDIT",
		VmcCredit:  1000,
		NayaxState: "SESSION_ACTIVE",
		LinesRead:  42,
		Approved:   3,
		Denied:     1,
	}
}

func TestHealthz(t *testing.T) {
	srv := New(testSnapshot, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	srv := New(testSnapshot, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got bridge.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "IDLE_WITH_CREDIT", got.VmcState)
	assert.EqualValues(t, 42, got.LinesRead)
	assert.EqualValues(t, 3, got.Approved)
}

func TestVends(t *testing.T) {
	store, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Record(&journal.VendRecord{
		EventType: "nayax_payment.approved", Price: "1.50",
	}))

	srv := New(testSnapshot, store)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vends", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var recs []journal.VendRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "1.50", recs[0].Price)
}

func TestVendsWithoutJournal(t *testing.T) {
	srv := New(testSnapshot, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vends", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

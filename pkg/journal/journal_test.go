// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	prod := 7

	require.NoError(t, s.Record(&VendRecord{
		EventType: "nayax_payment.approved", Price: "1.50", Product: &prod,
	}))
	require.NoError(t, s.Record(&VendRecord{
		EventType: "nayax_payment.denied", Price: "2.00", Reason: "nayax_timeout",
	}))

	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Newest first.
	assert.Equal(t, "nayax_payment.denied", recs[0].EventType)
	assert.Equal(t, "nayax_timeout", recs[0].Reason)
	assert.Nil(t, recs[0].Product)

	assert.Equal(t, "nayax_payment.approved", recs[1].EventType)
	require.NotNil(t, recs[1].Product)
	assert.Equal(t, 7, *recs[1].Product)
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(&VendRecord{EventType: "nayax_payment.approved", Price: "1.00"}))
	}
	require.NoError(t, s.Record(&VendRecord{EventType: "nayax_payment.denied", Price: "1.00"}))

	approved, denied, err := s.Counts()
	require.NoError(t, err)
	assert.EqualValues(t, 3, approved)
	assert.EqualValues(t, 1, denied)
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(&VendRecord{EventType: "nayax_payment.approved", Price: "1.00"}))
	}
	recs, err := s.Recent(2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Category Tests ─────────────────────────────────────────────────────────

func TestCategory_Index(t *testing.T) {
	for i, c := range Categories {
		assert.Equal(t, i, c.Index(), "category %s", c)
		assert.True(t, c.Known())
	}
	assert.Equal(t, -1, Category("volcano").Index())
	assert.False(t, Category("").Known())
}

// ─── PlayerState Tests ──────────────────────────────────────────────────────

func TestNewPlayerState(t *testing.T) {
	st := NewPlayerState()
	assert.Equal(t, int64(0), st.CumulativePoints)
	assert.Equal(t, 1, st.Level)
	assert.Empty(t, st.VisitedLocationIDs)
	assert.Empty(t, st.LastVisitTimestamp)
	assert.True(t, st.Consistent())
}

func TestPlayerState_CloneIsDeep(t *testing.T) {
	st := NewPlayerState()
	st.VisitedLocationIDs[1] = struct{}{}
	st.LastVisitTimestamp[1] = 1000

	cp := st.Clone()
	cp.VisitedLocationIDs[2] = struct{}{}
	cp.LastVisitTimestamp[2] = 2000
	cp.LastVisitTimestamp[1] = 5000

	assert.False(t, st.HasVisited(2))
	ts, _ := st.LastVisit(1)
	assert.Equal(t, int64(1000), ts)
}

func TestPlayerState_Consistent(t *testing.T) {
	st := NewPlayerState()
	st.VisitedLocationIDs[3] = struct{}{}
	assert.False(t, st.Consistent())

	st.LastVisitTimestamp[3] = 10
	assert.True(t, st.Consistent())

	st.LastVisitTimestamp[4] = 10
	assert.False(t, st.Consistent())
}

// ─── Snapshot Tests ─────────────────────────────────────────────────────────

func TestSnapshot_SortedShape(t *testing.T) {
	st := NewPlayerState()
	st.CumulativePoints = 150
	st.Level = 2
	for _, id := range []int{7, 2, 5} {
		st.VisitedLocationIDs[id] = struct{}{}
		st.LastVisitTimestamp[id] = int64(id * 100)
	}

	snap := st.ToSnapshot()
	assert.Equal(t, int64(150), snap.UserPoints)
	assert.Equal(t, 2, snap.UserLevel)
	assert.Equal(t, []int{2, 5, 7}, snap.VisitedLocations)
	assert.Equal(t, [][2]int64{{2, 200}, {5, 500}, {7, 700}}, snap.LastVisitTimes)

	back := snap.State()
	assert.Equal(t, st.VisitedLocationIDs, back.VisitedLocationIDs)
	assert.Equal(t, st.LastVisitTimestamp, back.LastVisitTimestamp)
}

func TestSnapshot_StateReconcilesMismatchedCollections(t *testing.T) {
	snap := Snapshot{
		UserPoints:       -20,
		VisitedLocations: []int{1},
		LastVisitTimes:   [][2]int64{{2, 900}},
	}
	st := snap.State()

	assert.Equal(t, int64(0), st.CumulativePoints, "negative points clamp to zero")
	assert.True(t, st.HasVisited(1))
	assert.True(t, st.HasVisited(2))
	ts, ok := st.LastVisit(1)
	require.True(t, ok)
	assert.Equal(t, int64(0), ts)
	assert.True(t, st.Consistent())
}

// ─── Error Classification Tests ─────────────────────────────────────────────

func TestClassifyLocationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want LocationErrorKind
	}{
		{"nil", nil, LocationErrorUnknown},
		{"typed permission", NewLocationError(LocationErrorPermissionDenied), LocationErrorPermissionDenied},
		{"wrapped typed", fmt.Errorf("watch: %w", NewLocationError(LocationErrorPositionUnavailable)), LocationErrorPositionUnavailable},
		{"sentinel timeout", ErrTimeout, LocationErrorTimeout},
		{"context deadline", context.DeadlineExceeded, LocationErrorTimeout},
		{"wrapped sentinel", fmt.Errorf("gps: %w", ErrPermissionDenied), LocationErrorPermissionDenied},
		{"anything else", errors.New("boom"), LocationErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyLocationError(tt.err))
		})
	}
}

func TestLocationError_UnwrapsToSentinel(t *testing.T) {
	err := NewLocationError(LocationErrorTimeout)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "timeout")
}

func TestLocationErrorKindFromCode(t *testing.T) {
	assert.Equal(t, LocationErrorPermissionDenied, LocationErrorKindFromCode(1))
	assert.Equal(t, LocationErrorPositionUnavailable, LocationErrorKindFromCode(2))
	assert.Equal(t, LocationErrorTimeout, LocationErrorKindFromCode(3))
	assert.Equal(t, LocationErrorUnknown, LocationErrorKindFromCode(42))
	assert.Equal(t, "Unable to get location: Request timeout", LocationErrorTimeout.Message())
}

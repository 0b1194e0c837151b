package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fog-of-explore/explore/internal/domain"
)

// fakeClient is an in-memory Client.
type fakeClient struct {
	kv     map[string]string
	lists  map[string][]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{kv: map[string]string{}, lists: map[string][]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.kv[key] = string(v)
	default:
		f.kv[key] = fmt.Sprint(v)
	}
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.kv[k]; ok {
			delete(f.kv, k)
			n++
		}
		if _, ok := f.lists[k]; ok {
			delete(f.lists, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.lists[key] = append([]string{string(v.([]byte))}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeClient) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	l := f.lists[key]
	if int64(len(l)) > stop+1 {
		f.lists[key] = l[start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	l := f.lists[key]
	if stop+1 < int64(len(l)) {
		l = l[start : stop+1]
	}
	return redis.NewStringSliceResult(l, nil)
}

func TestLoad_Missing(t *testing.T) {
	st, err := New(newFakeClient(), "p1", 0).Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSaveLoad(t *testing.T) {
	fc := newFakeClient()
	store := New(fc, "p1", 24*time.Hour)
	ctx := context.Background()

	st := domain.NewPlayerState()
	st.CumulativePoints = 260
	st.VisitedLocationIDs[4] = struct{}{}
	st.LastVisitTimestamp[4] = 777
	require.NoError(t, store.Save(ctx, st))

	assert.JSONEq(t, `{"userPoints":260,"userLevel":1,"visitedLocations":[4],"lastVisitTimes":[[4,777]]}`, fc.kv["explore:player:p1"])
	assert.Equal(t, 24*time.Hour, fc.ttls["explore:player:p1"])

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(260), got.CumulativePoints)
	assert.True(t, got.HasVisited(4))
}

func TestLoad_Corrupt(t *testing.T) {
	fc := newFakeClient()
	fc.kv["explore:player:p1"] = "[[["
	_, err := New(fc, "p1", 0).Load(context.Background())
	assert.True(t, eris.Is(err, domain.ErrCorruptState))
}

func TestLoad_Unavailable(t *testing.T) {
	fc := newFakeClient()
	fc.getErr = errors.New("dial tcp: connection refused")
	_, err := New(fc, "p1", 0).Load(context.Background())
	assert.ErrorContains(t, err, "redis: load player state")
}

func TestVisits(t *testing.T) {
	fc := newFakeClient()
	store := New(fc, "p1", 0)
	ctx := context.Background()

	require.NoError(t, store.RecordVisits(ctx, []domain.VisitEvent{{ID: "a", PointsAwarded: 1}}))
	require.NoError(t, store.RecordVisits(ctx, []domain.VisitEvent{{ID: "b", PointsAwarded: 2}}))

	got, err := store.RecentVisits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)

	require.NoError(t, store.Reset(ctx))
	got, _ = store.RecentVisits(ctx, 10)
	assert.Empty(t, got)
	st, _ := store.Load(ctx)
	assert.Nil(t, st)
}

func TestOpen_NoAddr(t *testing.T) {
	assert.Nil(t, Open(Options{}))
}

package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/retry"
	"github.com/joss/playsync/internal/store"
)

// flakyStore wraps the in-memory store with injected failures.
type flakyStore struct {
	*store.Memory

	mu            sync.Mutex
	failTitles    map[string]error
	batchFailures int // batch calls that fail as unavailable before succeeding
	batchCalls    int
	upsertCalls   map[string]int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Memory:      store.NewMemory(),
		failTitles:  map[string]error{},
		upsertCalls: map[string]int{},
	}
}

func (f *flakyStore) Upsert(ctx context.Context, title string, at time.Time) (domain.PlayedGame, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.upsertCalls[title]++
	err := f.failTitles[title]
	f.mu.Unlock()
	if err != nil {
		return domain.PlayedGame{}, err
	}
	return f.Memory.Upsert(ctx, title, at)
}

func (f *flakyStore) UpsertBatch(ctx context.Context, titles []string, at time.Time) ([]domain.PlayedGame, error) {
	f.mu.Lock()
	f.batchCalls++
	if f.batchFailures > 0 {
		f.batchFailures--
		f.mu.Unlock()
		return nil, store.Unavailable("test", errors.New("connection reset"))
	}
	for _, t := range titles {
		if err := f.failTitles[t]; err != nil {
			f.mu.Unlock()
			return nil, fmt.Errorf("batch: %w", err)
		}
	}
	f.mu.Unlock()
	return f.Memory.UpsertBatch(ctx, titles, at)
}

func fixedClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[min(i, len(times)-1)]
		i++
		return t
	}
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRecordFirstAndLastSeen(t *testing.T) {
	mem := store.NewMemory()
	s := New(mem, Config{Write: retry.Immediate(3)},
		WithClock(fixedClock(t0, t0.Add(time.Minute), t0.Add(2*time.Minute))))
	ctx := context.Background()

	for _, title := range []string{"ELDEN RING", "Ghost of Tsushima", "ELDEN RING"} {
		_, err := s.Record(ctx, title)
		require.NoError(t, err)
	}

	games := mem.Games()
	require.Len(t, games, 2)
	elden, err := mem.Get(ctx, "ELDEN RING")
	require.NoError(t, err)
	assert.Equal(t, t0, elden.FirstSeen)
	assert.Equal(t, t0.Add(2*time.Minute), elden.LastSeen)
}

func TestRecordTwiceKeepsFirstSeen(t *testing.T) {
	mem := store.NewMemory()
	s := New(mem, Config{Write: retry.Immediate(1)}, WithClock(fixedClock(t0, t0.Add(time.Hour))))

	first, err := s.Record(context.Background(), "Astro Bot")
	require.NoError(t, err)
	second, err := s.Record(context.Background(), " Astro  Bot ")
	require.NoError(t, err)

	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func TestRecordRejectsEmptyTitle(t *testing.T) {
	s := New(store.NewMemory(), Config{Write: retry.Immediate(1)})
	_, err := s.Record(context.Background(), "   ")
	assert.ErrorIs(t, err, store.ErrInvalidTitle)
}

func TestRecordRetriesUnavailable(t *testing.T) {
	fs := newFlakyStore()
	fs.failTitles["Returnal"] = store.Unavailable("test", errors.New("connection refused"))
	s := New(fs, Config{Write: retry.Immediate(3)})

	_, err := s.Record(context.Background(), "Returnal")
	assert.True(t, store.IsUnavailable(err))
	assert.Equal(t, 3, fs.upsertCalls["Returnal"])
}

func TestRecordDoesNotRetryPermanentErrors(t *testing.T) {
	fs := newFlakyStore()
	fs.failTitles["Returnal"] = errors.New("constraint violation")
	s := New(fs, Config{Write: retry.Immediate(3)})

	_, err := s.Record(context.Background(), "Returnal")
	require.Error(t, err)
	assert.Equal(t, 1, fs.upsertCalls["Returnal"])
}

func TestRecordAllBatchSuccess(t *testing.T) {
	fs := newFlakyStore()
	fs.batchFailures = 1
	s := New(fs, Config{Write: retry.Immediate(3)})

	res := s.RecordAll(context.Background(), []string{"A", "B", "A", " "})
	assert.Equal(t, 2, res.Accepted)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 2, fs.batchCalls)
	assert.Empty(t, fs.upsertCalls)
}

func TestRecordAllOneBadTitle(t *testing.T) {
	fs := newFlakyStore()
	fs.failTitles["Title 7"] = store.Unavailable("test", errors.New("timeout"))
	s := New(fs, Config{Write: retry.Immediate(2), Concurrency: 4})

	titles := make([]string, 10)
	for i := range titles {
		titles[i] = fmt.Sprintf("Title %d", i)
	}

	res := s.RecordAll(context.Background(), titles)

	assert.Equal(t, 9, res.Accepted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"Title 7"}, res.FailedTitles)
	assert.Len(t, fs.Games(), 9)
	assert.Equal(t, 2, fs.upsertCalls["Title 7"])
	assert.LessOrEqual(t, fs.maxInFlight.Load(), int32(4))
}

func TestRecordAllCancelled(t *testing.T) {
	fs := newFlakyStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(fs, Config{Write: retry.Immediate(3)})

	res := s.RecordAll(ctx, []string{"A", "B"})
	assert.Zero(t, res.Accepted)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, fs.batchCalls)
}

func TestBatchResultAdd(t *testing.T) {
	var total BatchResult
	total.Add(BatchResult{Accepted: 3})
	total.Add(BatchResult{Accepted: 1, Failed: 1, FailedTitles: []string{"X"}})

	assert.Equal(t, 4, total.Accepted)
	assert.Equal(t, 1, total.Failed)
	assert.Equal(t, []string{"X"}, total.FailedTitles)
}

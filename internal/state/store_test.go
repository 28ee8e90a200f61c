package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func turn(sp conversation.Speaker, msg string) conversation.Turn {
	return conversation.Turn{Speaker: sp, Message: msg}
}

func TestAcquire_CreatesAndCommits(t *testing.T) {
	s := New()
	ctx := context.Background()

	l, err := s.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	st, err := l.State()
	require.NoError(t, err)
	assert.Equal(t, "conv-1", st.ID)
	assert.Empty(t, st.Turns)
	assert.Equal(t, 1, s.Len())

	st.Turns = append(st.Turns, turn(conversation.Customer, "I need a CRM"))
	st.LastScore = &Score{TurnIndex: 0, Probability: 0.4}
	require.NoError(t, l.Commit(st))
	l.Release()

	snap, ok := s.Snapshot("conv-1")
	require.True(t, ok)
	assert.Len(t, snap.Turns, 1)
	assert.Equal(t, 0.4, snap.LastScore.Probability)
	assert.False(t, snap.UpdatedAt.Before(snap.CreatedAt))
}

func TestAcquire_EmptyID(t *testing.T) {
	_, err := New().Acquire(context.Background(), "")
	assert.ErrorIs(t, err, ErrInconsistentState)
}

func TestCommit_RejectsRewrite(t *testing.T) {
	s := New()
	ctx := context.Background()

	l, err := s.Acquire(ctx, "c")
	require.NoError(t, err)
	defer l.Release()

	st, _ := l.State()
	st.Turns = []conversation.Turn{turn(conversation.Customer, "a"), turn(conversation.SalesRep, "b")}
	require.NoError(t, l.Commit(st))

	forked := st.Clone()
	forked.Turns = []conversation.Turn{turn(conversation.Customer, "a"), turn(conversation.SalesRep, "DIFFERENT")}
	assert.ErrorIs(t, l.Commit(forked), ErrInconsistentState)

	shorter := st.Clone()
	shorter.Turns = shorter.Turns[:1]
	assert.ErrorIs(t, l.Commit(shorter), ErrInconsistentState)

	wrongID := st.Clone()
	wrongID.ID = "other"
	assert.ErrorIs(t, l.Commit(wrongID), ErrInconsistentState)

	snap, _ := s.Snapshot("c")
	assert.Equal(t, "b", snap.Turns[1].Message, "rejected commits must leave state untouched")
}

func TestLease_ReleasedIsInert(t *testing.T) {
	s := New()
	l, err := s.Acquire(context.Background(), "c")
	require.NoError(t, err)
	st, _ := l.State()

	l.Release()
	l.Release()

	assert.ErrorIs(t, l.Commit(st), ErrInconsistentState)
	_, err = l.State()
	assert.ErrorIs(t, err, ErrInconsistentState)
}

func TestAcquire_IsExclusive(t *testing.T) {
	s := New()
	l, err := s.Acquire(context.Background(), "c")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "c")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		l2, err := s.Acquire(context.Background(), "c")
		if err == nil {
			l2.Release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lease was held")
	case <-time.After(20 * time.Millisecond):
	}
	l.Release()
	<-acquired
}

func TestReset_InvalidatesHeldLease(t *testing.T) {
	s := New()
	l, err := s.Acquire(context.Background(), "c")
	require.NoError(t, err)
	defer l.Release()
	st, _ := l.State()

	assert.True(t, s.Reset("c"))
	assert.False(t, s.Reset("c"))

	st.Turns = append(st.Turns, turn(conversation.Customer, "hi"))
	assert.ErrorIs(t, l.Commit(st), ErrInconsistentState)

	// A fresh lease on the same id starts from empty state.
	l2, err := s.Acquire(context.Background(), "c")
	require.NoError(t, err)
	defer l2.Release()
	fresh, _ := l2.State()
	assert.Empty(t, fresh.Turns)
}

func TestReset_WhileWaiting(t *testing.T) {
	s := New()
	l, err := s.Acquire(context.Background(), "c")
	require.NoError(t, err)

	got := make(chan *Lease)
	go func() {
		l2, err := s.Acquire(context.Background(), "c")
		if err != nil {
			got <- nil
			return
		}
		got <- l2
	}()

	time.Sleep(10 * time.Millisecond)
	s.Reset("c")
	l.Release()

	l2 := <-got
	require.NotNil(t, l2)
	defer l2.Release()
	st, err := l2.State()
	require.NoError(t, err)
	st.Turns = append(st.Turns, turn(conversation.Customer, "after reset"))
	assert.NoError(t, l2.Commit(st))
}

func TestSnapshot_IsCopy(t *testing.T) {
	s := New()
	l, err := s.Acquire(context.Background(), "c")
	require.NoError(t, err)
	st, _ := l.State()
	st.Turns = []conversation.Turn{turn(conversation.Customer, "original")}
	require.NoError(t, l.Commit(st))
	l.Release()

	snap, _ := s.Snapshot("c")
	snap.Turns[0].Message = "tampered"

	again, _ := s.Snapshot("c")
	assert.Equal(t, "original", again.Turns[0].Message)

	_, ok := s.Snapshot("missing")
	assert.False(t, ok)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := New()
	const ids, perID = 8, 25

	var wg sync.WaitGroup
	for i := 0; i < ids; i++ {
		for j := 0; j < perID; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				id := fmt.Sprintf("conv-%d", i)
				l, err := s.Acquire(context.Background(), id)
				if !assert.NoError(t, err) {
					return
				}
				defer l.Release()
				st, err := l.State()
				if !assert.NoError(t, err) {
					return
				}
				st.Turns = append(st.Turns, turn(conversation.Customer, fmt.Sprintf("msg-%d", j)))
				assert.NoError(t, l.Commit(st))
			}(i, j)
		}
	}
	wg.Wait()

	assert.Equal(t, ids, s.Len())
	for _, id := range s.IDs() {
		snap, _ := s.Snapshot(id)
		assert.Len(t, snap.Turns, perID, "every read-modify-write on %s must be serialized", id)
	}
}

func TestRelease_DropsEmptyConversation(t *testing.T) {
	s := New()

	l, err := s.Acquire(context.Background(), "never-scored")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	l.Release()
	assert.Zero(t, s.Len(), "an entry without committed turns must not outlive its lease")
	_, ok := s.Snapshot("never-scored")
	assert.False(t, ok)

	l, err = s.Acquire(context.Background(), "scored")
	require.NoError(t, err)
	st, _ := l.State()
	st.Turns = append(st.Turns, turn(conversation.Customer, "hi"))
	require.NoError(t, l.Commit(st))
	l.Release()
	assert.Equal(t, 1, s.Len())
}

func TestAcquire_CancelledDoesNotLeaveEntry(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the send or ctx.Done may win the select; neither may leak.
	_, _ = s.Acquire(ctx, "c")
	if l, err := s.Acquire(ctx, "c"); err == nil {
		l.Release()
	}
	assert.Zero(t, s.Len())
}

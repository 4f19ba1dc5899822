package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_AddAndAll(t *testing.T) {
	p := NewPool()
	a := NewIdentity("a", "a@example.com", "r")
	b := NewIdentity("b", "b@example.com", "r")
	p.Add(a)
	p.Add(b)

	all := p.All()
	require.Len(t, all, 2)
}

func TestPool_AllReturnsACopy(t *testing.T) {
	p := NewPool()
	p.Add(NewIdentity("a", "a@example.com", "r"))

	snap := p.All()
	p.Add(NewIdentity("b", "b@example.com", "r"))
	require.Len(t, snap, 1, "mutating the pool after All() should not affect the earlier snapshot")
}

func TestPool_Get(t *testing.T) {
	p := NewPool()
	a := NewIdentity("a", "a@example.com", "r")
	p.Add(a)

	require.Same(t, a, p.Get("a"))
	require.Nil(t, p.Get("missing"))
}

func TestPool_AcquireCall_BypassReturnsImmediately(t *testing.T) {
	p := NewPool()
	release, err := p.AcquireCall(context.Background(), "id-1", true)
	require.NoError(t, err)
	release()
}

func TestPool_AcquireCall_SerializesSameIdentity(t *testing.T) {
	p := NewPool()
	release1, err := p.AcquireCall(context.Background(), "id-1", false)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := p.AcquireCall(context.Background(), "id-1", false)
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second AcquireCall should have blocked while the lock is held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second AcquireCall should have proceeded after release")
	}
}

func TestPool_AcquireCall_RespectsContextCancellation(t *testing.T) {
	p := NewPool()
	release1, err := p.AcquireCall(context.Background(), "id-1", false)
	require.NoError(t, err)
	defer release1()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = p.AcquireCall(ctx, "id-1", false)
	require.Error(t, err)
}

func TestPool_AcquireCall_DoesNotDoubleReleasePanic(t *testing.T) {
	p := NewPool()
	release, err := p.AcquireCall(context.Background(), "id-1", false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release()
		}()
	}
	wg.Wait()
}

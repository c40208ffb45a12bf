package nonce

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeSource struct {
	count uint64
	calls int
	err   error
}

func (f *fakeSource) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

var testAccount = common.HexToAddress("0x00000000000000000000000000000000001234")

func TestNextPrimesFromChainOnce(t *testing.T) {
	src := &fakeSource{count: 7}
	m := New(src, testAccount)

	n, err := m.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected primed nonce 7, got %d", n)
	}
	if _, err := m.Next(context.Background()); err != nil {
		t.Fatalf("second next: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected chain to be read exactly once, got %d reads", src.calls)
	}
}

func TestCommitAdvancesCounter(t *testing.T) {
	src := &fakeSource{count: 0}
	m := New(src, testAccount)

	n, _ := m.Next(context.Background())
	m.Commit(n)

	next, err := m.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != n+1 {
		t.Fatalf("expected next nonce %d after commit, got %d", n+1, next)
	}
}

func TestReleaseReusesNonce(t *testing.T) {
	src := &fakeSource{count: 0}
	m := New(src, testAccount)

	n, _ := m.Next(context.Background())
	m.Release(n)

	next, err := m.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != n {
		t.Fatalf("expected released nonce %d to be reused, got %d", n, next)
	}
}

func TestReleaseIsNoOpAfterLaterCommit(t *testing.T) {
	src := &fakeSource{count: 0}
	m := New(src, testAccount)

	first, _ := m.Next(context.Background())
	m.Commit(first)
	second, _ := m.Next(context.Background())
	m.Commit(second)

	// A stale release of the first nonce must not rewind the counter past
	// work already committed.
	m.Release(first)

	next, _ := m.Next(context.Background())
	if next != second+1 {
		t.Fatalf("expected next nonce %d, got %d", second+1, next)
	}
}

func TestRefreshRepeatsChainRead(t *testing.T) {
	src := &fakeSource{count: 3}
	m := New(src, testAccount)

	if _, err := m.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	m.Refresh()
	src.count = 9
	n, err := m.Next(context.Background())
	if err != nil {
		t.Fatalf("next after refresh: %v", err)
	}
	if n != 9 {
		t.Fatalf("expected refreshed nonce 9, got %d", n)
	}
	if src.calls != 2 {
		t.Fatalf("expected two chain reads, got %d", src.calls)
	}
}

func TestConcurrentNextCallsReturnDistinctNonces(t *testing.T) {
	src := &fakeSource{count: 0}
	m := New(src, testAccount)

	const n = 20
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := m.Next(context.Background())
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			results <- nonce
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]struct{}, n)
	for nonce := range results {
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce %d handed out more than once", nonce)
		}
		seen[nonce] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct nonces, got %d", n, len(seen))
	}
}

func TestNextPropagatesChainError(t *testing.T) {
	src := &fakeSource{err: errors.New("rpc down")}
	m := New(src, testAccount)
	if _, err := m.Next(context.Background()); err == nil {
		t.Fatalf("expected error from chain read")
	}
}

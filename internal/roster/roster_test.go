package roster

import (
	"context"
	"errors"
	"sync"
	"testing"

	"xiaov/internal/chat"
	logx "xiaov/pkg/logx"
)

type fakeLister struct {
	mu     sync.Mutex
	groups []chat.Group
	err    error
	calls  int
}

func (f *fakeLister) ListGroups(ctx context.Context) ([]chat.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]chat.Group(nil), f.groups...), nil
}

func (f *fakeLister) set(groups ...chat.Group) {
	f.mu.Lock()
	f.groups = groups
	f.mu.Unlock()
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestResolveHitDoesNotRefresh(t *testing.T) {
	t.Parallel()
	fl := &fakeLister{groups: []chat.Group{{ID: 1001, Name: "Devs"}, {ID: 1002, Name: "Users"}}}
	c := New(fl, logx.Nop(), nil, nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	for _, want := range fl.groups {
		got, err := c.Resolve(context.Background(), want.ID)
		if err != nil {
			t.Fatalf("Resolve(%d): %v", want.ID, err)
		}
		if got != want {
			t.Fatalf("Resolve(%d) = %+v, want %+v", want.ID, got, want)
		}
	}
	if n := fl.callCount(); n != 1 {
		t.Fatalf("ListGroups calls = %d, want 1", n)
	}
}

func TestResolveMissRefreshesOnce(t *testing.T) {
	t.Parallel()
	fl := &fakeLister{groups: []chat.Group{{ID: 1001, Name: "Devs"}}}
	c := New(fl, logx.Nop(), nil, nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	fl.set(chat.Group{ID: 1001, Name: "Devs"}, chat.Group{ID: 2002, Name: "New"})
	g, err := c.Resolve(context.Background(), 2002)
	if err != nil {
		t.Fatalf("Resolve after join: %v", err)
	}
	if g.Name != "New" {
		t.Fatalf("Name = %q, want New", g.Name)
	}
	if n := fl.callCount(); n != 2 {
		t.Fatalf("ListGroups calls = %d, want 2", n)
	}
}

func TestResolveUnknownAfterRefresh(t *testing.T) {
	t.Parallel()
	fl := &fakeLister{groups: []chat.Group{{ID: 1001, Name: "Devs"}}}
	c := New(fl, logx.Nop(), nil, nil)

	_, err := c.Resolve(context.Background(), 9999)
	if err == nil {
		t.Fatal("expected resolution error")
	}
	var re *ResolutionError
	if !errors.As(err, &re) || re.GroupID != 9999 {
		t.Fatalf("error = %v, want *ResolutionError for 9999", err)
	}
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("error = %v, want ErrGroupNotFound", err)
	}
	if n := fl.callCount(); n != 1 {
		t.Fatalf("ListGroups calls = %d, want exactly one refresh", n)
	}
}

func TestRefreshReplacesWholesale(t *testing.T) {
	t.Parallel()
	fl := &fakeLister{groups: []chat.Group{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}}
	c := New(fl, logx.Nop(), nil, nil)
	_ = c.Refresh(context.Background())

	fl.set(chat.Group{ID: 3, Name: "c"})
	_ = c.Refresh(context.Background())

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].ID != 3 {
		t.Fatalf("snapshot = %+v, want only group 3", snap)
	}
	if _, ok := c.lookup(1); ok {
		t.Fatal("stale group 1 still resolvable")
	}
}

func TestRefreshErrorKeepsPrevious(t *testing.T) {
	t.Parallel()
	fl := &fakeLister{groups: []chat.Group{{ID: 1, Name: "a"}}}
	c := New(fl, logx.Nop(), nil, nil)
	_ = c.Refresh(context.Background())

	fl.mu.Lock()
	fl.err = errors.New("boom")
	fl.mu.Unlock()

	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want previous snapshot kept", c.Len())
	}
}

func TestSnapshotKeepsListOrder(t *testing.T) {
	t.Parallel()
	fl := &fakeLister{groups: []chat.Group{{ID: 30, Name: "c"}, {ID: 10, Name: "a"}, {ID: 20, Name: "b"}}}
	c := New(fl, logx.Nop(), nil, nil)
	_ = c.Refresh(context.Background())

	snap := c.Snapshot()
	want := []int64{30, 10, 20}
	for i, g := range snap {
		if g.ID != want[i] {
			t.Fatalf("snapshot[%d] = %d, want %d", i, g.ID, want[i])
		}
	}
}

func TestConcurrentResolveAndRefresh(t *testing.T) {
	t.Parallel()
	fl := &fakeLister{groups: []chat.Group{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}}
	c := New(fl, logx.Nop(), nil, nil)
	_ = c.Refresh(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Refresh(context.Background())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := c.Resolve(context.Background(), 2); err != nil {
					t.Errorf("Resolve: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

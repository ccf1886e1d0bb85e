package toolgateway

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	pages  map[string]fakePage
	calls  []string
	closed int
}

type fakePage struct {
	tools []Tool
	next  string
}

func (f *fakeConn) ListTools(_ context.Context, cursor string) ([]Tool, string, error) {
	p := f.pages[cursor]
	return p.tools, p.next, nil
}

func (f *fakeConn) CallTool(_ context.Context, name string, _ map[string]any) (ToolOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if name == "broken" {
		return ToolOutput{Text: "boom", IsError: true}, nil
	}
	return ToolOutput{Text: "ok:" + name}, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func dialerFor(conn *fakeConn, dials *int) Dialer {
	return func(_ context.Context, endpoint, token string) (Conn, error) {
		if dials != nil {
			*dials++
		}
		return conn, nil
	}
}

func TestScopeListToolsFollowsCursor(t *testing.T) {
	conn := &fakeConn{pages: map[string]fakePage{
		"":   {tools: []Tool{{Name: "search_products"}}, next: "p2"},
		"p2": {tools: []Tool{{Name: "get_product"}, {Name: "get_collections"}}},
	}}
	c := NewClient("https://gw", "tok", dialerFor(conn, nil), nil)

	var names []string
	err := c.WithScope(context.Background(), func(s *Scope) error {
		tools, err := s.ListTools(context.Background())
		for _, tool := range tools {
			names = append(names, tool.Name)
		}
		return err
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}
	if len(names) != 3 || names[0] != "search_products" || names[2] != "get_collections" {
		t.Fatalf("tools = %v", names)
	}
	if conn.closed != 1 {
		t.Fatalf("closed = %d, want 1", conn.closed)
	}
}

func TestWithScopeSingleActivation(t *testing.T) {
	conn := &fakeConn{}
	dials := 0
	c := NewClient("https://gw", "tok", dialerFor(conn, &dials), nil)

	err := c.WithScope(context.Background(), func(s *Scope) error {
		if _, err := c.open(context.Background()); !errors.Is(err, ErrScopeActive) {
			t.Errorf("nested open err = %v, want ErrScopeActive", err)
		}
		if err := c.WithScope(context.Background(), func(*Scope) error { return nil }); !errors.Is(err, ErrScopeActive) {
			t.Errorf("nested WithScope err = %v, want ErrScopeActive", err)
		}
		out, err := s.CallTool(context.Background(), "search_products", map[string]any{"q": "sofa"})
		if err != nil || out.Text != "ok:search_products" {
			t.Errorf("CallTool = %+v, %v", out, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithScope failed: %v", err)
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}

	// Released: a new activation succeeds.
	if err := c.WithScope(context.Background(), func(*Scope) error { return nil }); err != nil {
		t.Fatalf("second activation failed: %v", err)
	}
}

func TestWithScopeClosesOnErrorAndPanic(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("https://gw", "tok", dialerFor(conn, nil), nil)
	sentinel := errors.New("agent failed")

	var leaked *Scope
	if err := c.WithScope(context.Background(), func(s *Scope) error {
		leaked = s
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if _, err := leaked.CallTool(context.Background(), "x", nil); !errors.Is(err, ErrScopeClosed) {
		t.Fatalf("use after close err = %v, want ErrScopeClosed", err)
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = c.WithScope(context.Background(), func(*Scope) error { panic("tool exploded") })
	}()

	if conn.closed != 2 {
		t.Fatalf("closed = %d, want 2", conn.closed)
	}
	if err := c.WithScope(context.Background(), func(*Scope) error { return nil }); err != nil {
		t.Fatalf("scope not released after panic: %v", err)
	}
}

func TestCallToolReportsToolError(t *testing.T) {
	c := NewClient("https://gw", "tok", dialerFor(&fakeConn{}, nil), nil)
	_ = c.WithScope(context.Background(), func(s *Scope) error {
		out, err := s.CallTool(context.Background(), "broken", nil)
		if err != nil {
			t.Fatalf("CallTool err = %v", err)
		}
		if !out.IsError || out.Text != "boom" {
			t.Fatalf("out = %+v", out)
		}
		return nil
	})
}

func TestOpenDialFailureReleasesClient(t *testing.T) {
	fail := true
	c := NewClient("https://gw", "tok", func(context.Context, string, string) (Conn, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return &fakeConn{}, nil
	}, nil)

	if _, err := c.open(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	fail = false
	s, err := c.open(context.Background())
	if err != nil {
		t.Fatalf("open after failure: %v", err)
	}
	_ = s.Close()
}

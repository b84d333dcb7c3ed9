package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestShutdownHandler_HooksRunInPriorityOrder(t *testing.T) {
	s := NewShutdownHandler(DefaultShutdownConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s.RegisterHook("store", 90, record("store"))
	s.RegisterHook("http", 10, record("http"))
	s.RegisterHook("worker", 20, record("worker"))

	s.Start()
	s.Shutdown()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"http", "worker", "store"}
	if len(order) != len(want) {
		t.Fatalf("expected %d hooks, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("hook %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestShutdownHandler_FailingHookDoesNotStopOthers(t *testing.T) {
	s := NewShutdownHandler(DefaultShutdownConfig())

	ran := make(chan struct{})
	s.RegisterHook("broken", 10, func(ctx context.Context) error {
		return errors.New("cleanup failed")
	})
	s.RegisterHook("after", 20, func(ctx context.Context) error {
		close(ran)
		return nil
	})

	s.Start()
	s.Shutdown()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("later hook never ran")
	}
}

func TestShutdownHandler_ShutdownBeforeStartIsNoop(t *testing.T) {
	s := NewShutdownHandler(nil)
	s.Shutdown() // not started: must not panic or close doneCh

	select {
	case <-s.Done():
		t.Fatal("done channel closed without start")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGracefulServer_ReadinessFlipsOffOnShutdown(t *testing.T) {
	g := NewGracefulServer(nil, DefaultShutdownConfig())
	g.Shutdown.Start()
	g.Health.SetReady(true)

	g.Shutdown.Shutdown()

	select {
	case <-g.Shutdown.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	// Readiness is cleared by the shutdown watcher goroutine.
	deadline := time.After(time.Second)
	for {
		g.Health.mu.RLock()
		ready := g.Health.ready
		g.Health.mu.RUnlock()
		if !ready {
			return
		}
		select {
		case <-deadline:
			t.Fatal("server still ready after shutdown")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

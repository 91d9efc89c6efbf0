package hotreload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestUpdateIncrementsGeneration(t *testing.T) {
	c := NewConfig(1)
	if c.Generation() != 0 {
		t.Fatalf("expected initial generation 0, got %d", c.Generation())
	}
	g := c.Update(2)
	if g != 1 || c.Generation() != 1 {
		t.Fatalf("expected generation 1 after first update, got %d", c.Generation())
	}
	if c.Get() != 2 {
		t.Fatalf("expected value 2, got %d", c.Get())
	}
}

func TestGenerationsStrictlyIncreasing(t *testing.T) {
	c := NewConfig(0)
	last := c.Generation()
	for i := 1; i <= 5; i++ {
		g := c.Update(i)
		if g <= last {
			t.Fatalf("expected strictly increasing generation, got %d after %d", g, last)
		}
		last = g
	}
}

func TestControllerCoalescesBurstIntoOneReload(t *testing.T) {
	cfg := NewConfig(0)
	var loadCount atomic.Int32
	loader := func(ctx context.Context) (int, error) {
		loadCount.Add(1)
		return 42, nil
	}
	ctrl := NewController(cfg, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		ctrl.Trigger(ReloadEvent{Kind: FileChanged, Path: "config.json"})
	}

	time.Sleep(DebounceDuration + 200*time.Millisecond)
	cancel()
	<-done

	if n := loadCount.Load(); n != 1 {
		t.Fatalf("expected loader invoked exactly once, got %d", n)
	}
	if cfg.Generation() != 1 {
		t.Fatalf("expected generation incremented by 1, got %d", cfg.Generation())
	}
	if cfg.Get() != 42 {
		t.Fatalf("expected reloaded value, got %d", cfg.Get())
	}
}

func TestControllerLoaderFailureLeavesSnapshotUnchanged(t *testing.T) {
	cfg := NewConfig(7)
	loader := func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	}
	ctrl := NewController(cfg, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()

	ctrl.Trigger(ReloadEvent{Kind: DatabaseChanged})
	time.Sleep(DebounceDuration + 200*time.Millisecond)
	cancel()
	<-done

	if cfg.Generation() != 0 {
		t.Fatalf("expected generation unchanged on load failure, got %d", cfg.Generation())
	}
	if cfg.Get() != 7 {
		t.Fatalf("expected value unchanged on load failure, got %d", cfg.Get())
	}
}

func TestControllerStopsOnClose(t *testing.T) {
	cfg := NewConfig(0)
	ctrl := NewController(cfg, func(ctx context.Context) (int, error) { return 1, nil })

	done := make(chan struct{})
	go func() {
		ctrl.Run(context.Background())
		close(done)
	}()

	ctrl.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after Close")
	}
}

package carbon

import (
	"context"
	"testing"
	"time"
)

func TestRefresher_WarmsMonitorImmediately(t *testing.T) {
	provider := &fakeProvider{value: 120}
	monitor := newTestMonitor(t, provider, Options{TTL: 10 * time.Millisecond})
	refresher := NewRefresher(monitor, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		refresher.Run(ctx)
		close(done)
	}()

	// The first observation fires before the first tick.
	deadline := time.Now().Add(500 * time.Millisecond)
	for provider.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("refresher made no fetch within 500ms")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRefresher_RefreshesOnInterval(t *testing.T) {
	provider := &fakeProvider{value: 120}
	monitor := newTestMonitor(t, provider, Options{TTL: time.Millisecond})
	refresher := NewRefresher(monitor, 15*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	refresher.Run(ctx)

	if calls := provider.callCount(); calls < 2 {
		t.Errorf("provider calls = %d over several intervals, want >= 2", calls)
	}
}

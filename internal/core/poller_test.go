package core

import (
	"context"
	"testing"
	"time"
)

func TestService_StartPoller(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{okResult(testSheet)}}
	svc := NewService(ServiceConfig{PollInterval: 10 * time.Millisecond}, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartPoller(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for f.Calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("poller made %d calls, want at least 3", f.Calls())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}

	cur, err := svc.Store().Current()
	if err != nil {
		t.Fatal(err)
	}
	if cur.Trigger != TriggerPoll {
		t.Errorf("trigger = %q, want poll", cur.Trigger)
	}
}

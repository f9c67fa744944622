package orchestrator

import (
	"testing"
	"time"
)

func TestAggregatorDebouncesPartials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PartialDebounce = 20 * time.Millisecond

	flushed := make(chan string, 4)
	agg := newAggregator(cfg, true, func(text string) { flushed <- text })

	agg.onPartial("hello")
	agg.onPartial("hello there")

	select {
	case text := <-flushed:
		if text != "hello there" {
			t.Fatalf("expected latest partial to flush, got %q", text)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("flush did not fire within debounce window")
	}
}

func TestAggregatorRepeatedPartialDoesNotRestartTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PartialDebounce = 30 * time.Millisecond

	var flushCount int
	done := make(chan struct{}, 1)
	agg := newAggregator(cfg, true, func(text string) {
		flushCount++
		done <- struct{}{}
	})

	agg.onPartial("one")
	time.Sleep(15 * time.Millisecond)
	agg.onPartial("one") // identical, should not re-arm

	<-done
	if flushCount != 1 {
		t.Fatalf("expected exactly one flush, got %d", flushCount)
	}
}

func TestAggregatorOnFinalBypassesDebounce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FinalOnlyDebounce = time.Hour // would never fire on its own

	flushed := make(chan string, 1)
	agg := newAggregator(cfg, false, func(text string) { flushed <- text })
	agg.onFinal("final answer")

	select {
	case text := <-flushed:
		if text != "final answer" {
			t.Fatalf("expected final answer, got %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("onFinal did not flush immediately")
	}
}

func TestAggregatorEmptyFinalLeavesPendingAndTimerIntact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PartialDebounce = 30 * time.Millisecond

	flushed := make(chan string, 2)
	agg := newAggregator(cfg, true, func(text string) { flushed <- text })

	agg.onPartial("partial text")
	agg.onFinal("   ")

	select {
	case text := <-flushed:
		if text != "partial text" {
			t.Fatalf("expected the pre-existing partial to still flush, got %q", text)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("empty final should not have cancelled the armed debounce timer")
	}
}

func TestAggregatorIsContinuation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContinuationMinChars = 5
	agg := newAggregator(cfg, true, func(string) {})

	if agg.isContinuation("hi") {
		t.Fatal("short partial should not count as a continuation")
	}
	if !agg.isContinuation("hi there") {
		t.Fatal("long enough partial should count as a continuation")
	}
}

func TestAggregatorPendingBargeInRoundTrip(t *testing.T) {
	agg := newAggregator(DefaultConfig(), true, func(string) {})
	if text := agg.takePendingBargeIn(); text != "" {
		t.Fatalf("expected empty pending barge-in, got %q", text)
	}
	agg.setPendingBargeIn("wait stop")
	if text := agg.takePendingBargeIn(); text != "wait stop" {
		t.Fatalf("expected %q, got %q", "wait stop", text)
	}
	if text := agg.takePendingBargeIn(); text != "" {
		t.Fatalf("expected pending barge-in to be consumed, got %q", text)
	}
}

func TestAggregatorReset(t *testing.T) {
	agg := newAggregator(DefaultConfig(), true, func(string) {})
	agg.onPartial("something")
	agg.setPendingBargeIn("stop")
	agg.reset()

	if agg.pending != "" || agg.lastPartial != "" || agg.pendingBargeIn != "" || agg.timer != nil {
		t.Fatal("reset should clear all pending state")
	}
}

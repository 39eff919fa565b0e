package douki

import (
	"fmt"
	"testing"
)

type testEvent struct {
	Value int
}

type otherEvent struct {
	X float32
}

// go test -run ^TestListenersSubscribeAndPublish$ . -count 1
func TestListenersSubscribeAndPublish(t *testing.T) {
	l := NewListeners()
	received := 0
	Subscribe(l, func(e testEvent) {
		received += e.Value
	})
	Subscribe(l, func(e testEvent) {
		received += e.Value * 2
	})
	Publish(l, testEvent{Value: 1})
	if received != 3 {
		t.Errorf("expected received 3, got %d", received)
	}
	Publish(l, testEvent{Value: 2})
	if received != 3+6 {
		t.Errorf("expected received 9, got %d", received)
	}
}

// go test -run ^TestListenersMultipleTypes$ . -count 1
func TestListenersMultipleTypes(t *testing.T) {
	l := NewListeners()
	received1 := 0
	received2 := 0
	Subscribe(l, func(e testEvent) {
		received1 += e.Value
	})
	Subscribe(l, func(e otherEvent) {
		received2 += int(e.X)
	})
	Publish(l, testEvent{Value: 42})
	Publish(l, otherEvent{X: 10})
	if received1 != 42 {
		t.Errorf("expected received1 42, got %d", received1)
	}
	if received2 != 10 {
		t.Errorf("expected received2 10, got %d", received2)
	}
}

// go test -run ^TestListenersNoHandlers$ . -count 1
func TestListenersNoHandlers(t *testing.T) {
	l := NewListeners()
	Publish(l, testEvent{Value: 42})
	if HasSubscribers[testEvent](l) {
		t.Error("expected no subscribers")
	}
	var nilListeners *Listeners
	Publish(nilListeners, testEvent{Value: 1})
	if HasSubscribers[testEvent](nilListeners) {
		t.Error("nil listeners must report no subscribers")
	}
}

// go test -run ^TestListenersFilterByExplanation$ . -count 1
func TestListenersFilterByExplanation(t *testing.T) {
	l := NewListeners()
	var in, out int
	SubscribeValueChanges(l, InboundFromOther, func(*ValueChangeEvent) { in++ })
	SubscribeValueChanges(l, OutboundToOthers, func(*ValueChangeEvent) { out++ })
	if !HasSubscribers[*ValueChangeEvent](l) {
		t.Fatal("expected value change subscribers")
	}
	Publish(l, &ValueChangeEvent{Explanation: InboundFromOther})
	Publish(l, &ValueChangeEvent{Explanation: InboundFromOther})
	Publish(l, &ValueChangeEvent{Explanation: OutboundToOthers})
	if in != 2 || out != 1 {
		t.Errorf("expected 2 inbound and 1 outbound, got %d and %d", in, out)
	}
}

// go test -run ^TestListenersTooManyTypes$ . -count 1
func TestListenersTooManyTypes(t *testing.T) {
	l := NewListeners()
	l.nextEventTypeID = MaxEventTypes
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic past MaxEventTypes")
		}
	}()
	Subscribe(l, func(testEvent) {})
}

func BenchmarkListenersPublishOneHandler(b *testing.B) {
	sizes := []int{1000, 10000, 100000}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dK", size/1000), func(b *testing.B) {
			l := NewListeners()
			sum := 0
			Subscribe(l, func(e testEvent) { sum += e.Value })
			event := testEvent{Value: 1}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < size; i++ {
				Publish(l, event)
			}
		})
	}
}

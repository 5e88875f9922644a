package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

var testTypes = []string{"search.completed", "profile.updated"}

func newEvent(eventType, data string) Event {
	return Event{Type: eventType, Data: json.RawMessage(data), Timestamp: time.Now()}
}

func TestSubscribeInvalidType(t *testing.T) {
	r := NewRouter(testTypes, nil)

	tests := []string{"", "search.started", "SEARCH.COMPLETED"}
	for _, eventType := range tests {
		_, err := r.Subscribe(eventType, func(Event) error { return nil })
		if !errors.Is(err, ErrInvalidEventType) {
			t.Errorf("Subscribe(%q) error = %v, want ErrInvalidEventType", eventType, err)
		}
	}
}

func TestSubscribeReservedTypes(t *testing.T) {
	r := NewRouter(testTypes, nil)

	for _, eventType := range []string{TypeConnectionLost, TypeConnectionState} {
		if _, err := r.Subscribe(eventType, func(Event) error { return nil }); err != nil {
			t.Errorf("Subscribe(%q) error = %v", eventType, err)
		}
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	r := NewRouter(testTypes, nil)
	if _, err := r.Subscribe("search.completed", nil); !errors.Is(err, ErrSubscription) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscription", err)
	}
}

func TestDispatchIsolation(t *testing.T) {
	r := NewRouter(testTypes, nil)

	errA := errors.New("handler A failed")
	var bCalls int

	hA, err := r.Subscribe("search.completed", func(Event) error { return errA })
	if err != nil {
		t.Fatalf("Subscribe(A) error = %v", err)
	}
	if _, err := r.Subscribe("search.completed", func(ev Event) error {
		bCalls++
		if string(ev.Data) != `{"id":1}` {
			t.Errorf("B got data %s", ev.Data)
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe(B) error = %v", err)
	}

	res := r.Dispatch(newEvent("search.completed", `{"id":1}`))

	if bCalls != 1 {
		t.Errorf("B calls = %d, want 1", bCalls)
	}
	if res.Invoked != 2 {
		t.Errorf("Invoked = %d, want 2", res.Invoked)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(res.Errors))
	}
	cbErr := res.Errors[0]
	if cbErr.HandlerID != hA.ID {
		t.Errorf("CallbackError.HandlerID = %s, want %s", cbErr.HandlerID, hA.ID)
	}
	if !errors.Is(cbErr, errA) {
		t.Errorf("CallbackError does not wrap handler error: %v", cbErr)
	}

	// A stays subscribed after failing.
	res = r.Dispatch(newEvent("search.completed", `{"id":1}`))
	if res.Invoked != 2 || bCalls != 2 {
		t.Errorf("second dispatch Invoked = %d, B calls = %d, want 2 and 2", res.Invoked, bCalls)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := NewRouter(testTypes, nil)

	var called bool
	r.Subscribe("profile.updated", func(Event) error { panic("nil map") })
	r.Subscribe("profile.updated", func(Event) error {
		called = true
		return nil
	})

	res := r.Dispatch(newEvent("profile.updated", `{}`))

	if !called {
		t.Error("second handler was not called after first panicked")
	}
	if len(res.Errors) != 1 || res.Errors[0].Panic != "nil map" {
		t.Errorf("Errors = %v, want one panic error", res.Errors)
	}
	if got := r.Stats().CallbackErrors; got != 1 {
		t.Errorf("Stats().CallbackErrors = %d, want 1", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	r := NewRouter(testTypes, nil)

	var aCalls, bCalls int
	hA, _ := r.Subscribe("search.completed", func(Event) error { aCalls++; return nil })
	r.Subscribe("search.completed", func(Event) error { bCalls++; return nil })

	if !r.Unsubscribe(hA) {
		t.Fatal("Unsubscribe() = false, want true")
	}
	if r.Unsubscribe(hA) {
		t.Error("second Unsubscribe() = true, want false")
	}

	r.Dispatch(newEvent("search.completed", `{}`))

	if aCalls != 0 {
		t.Errorf("A calls = %d, want 0", aCalls)
	}
	if bCalls != 1 {
		t.Errorf("B calls = %d, want 1", bCalls)
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRouter(testTypes, nil)

	var hB Handle
	var bCalls int
	r.Subscribe("search.completed", func(Event) error {
		r.Unsubscribe(hB)
		return nil
	})
	hB, _ = r.Subscribe("search.completed", func(Event) error { bCalls++; return nil })

	// B is still called in the dispatch that removed it.
	r.Dispatch(newEvent("search.completed", `{}`))
	if bCalls != 1 {
		t.Errorf("B calls = %d, want 1", bCalls)
	}

	r.Dispatch(newEvent("search.completed", `{}`))
	if bCalls != 1 {
		t.Errorf("B calls after unsubscribe = %d, want 1", bCalls)
	}
}

func TestDispatchNoSubscribers(t *testing.T) {
	r := NewRouter(testTypes, nil)
	res := r.Dispatch(newEvent("unknown.type", `{}`))
	if res.Invoked != 0 || len(res.Errors) != 0 {
		t.Errorf("Dispatch() = %+v, want empty result", res)
	}
}

func TestConcurrentSubscribeDispatch(t *testing.T) {
	r := NewRouter(testTypes, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h, err := r.Subscribe("search.completed", func(Event) error { return nil })
			if err != nil {
				t.Errorf("Subscribe() error = %v", err)
				return
			}
			r.Unsubscribe(h)
		}()
		go func() {
			defer wg.Done()
			r.Dispatch(newEvent("search.completed", `{}`))
		}()
	}
	wg.Wait()

	if got := r.Stats().Subscriptions["search.completed"]; got != 0 {
		t.Errorf("subscriptions left = %d, want 0", got)
	}
	if got := r.Stats().Dispatched; got != 10 {
		t.Errorf("Dispatched = %d, want 10", got)
	}
}

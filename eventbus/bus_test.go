package eventbus

import (
	"errors"
	"testing"
)

func TestFireCallsHandlersInRegistrationOrder(t *testing.T) {
	bus := NewLocal()
	var order []int
	bus.On("sam.segmentStart", func(args ...any) { order = append(order, 1) })
	bus.On("sam.segmentStart", func(args ...any) { order = append(order, 2) })

	bus.Fire("sam.segmentStart")

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers in registration order, got %v", order)
	}
}

func TestFireWithNoHandlersIsNoOp(t *testing.T) {
	bus := NewLocal()
	bus.Fire("sam.nothingListening") // must not panic
}

func TestInvokeUnregisteredNameErrors(t *testing.T) {
	bus := NewLocal()
	_, err := bus.Invoke("sam.getProviderStatus")
	if err == nil {
		t.Fatal("expected an error for an unregistered function name")
	}
}

func TestInvokeReturnsFunctionResult(t *testing.T) {
	bus := NewLocal()
	bus.Function("sam.areModelsCached", func(args ...any) (any, error) {
		return true, nil
	})

	result, err := bus.Invoke("sam.areModelsCached")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != true {
		t.Fatalf("expected true, got %v", result)
	}
}

func TestInvokePropagatesFunctionError(t *testing.T) {
	bus := NewLocal()
	wantErr := errors.New("boom")
	bus.Function("sam.getModelDownloadInfo", func(args ...any) (any, error) {
		return nil, wantErr
	})

	_, err := bus.Invoke("sam.getModelDownloadInfo")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestReregisteringFunctionReplacesPrevious(t *testing.T) {
	bus := NewLocal()
	bus.Function("sam.getProviderStatus", func(args ...any) (any, error) { return "first", nil })
	bus.Function("sam.getProviderStatus", func(args ...any) (any, error) { return "second", nil })

	result, err := bus.Invoke("sam.getProviderStatus")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "second" {
		t.Fatalf("expected the second registration to win, got %v", result)
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testPeers(t *testing.T, timeout time.Duration) (*Peer, *Peer) {
	t.Helper()
	connA, connB := newPipePair()
	a := NewPeer(connA, timeout, zap.NewNop())
	b := NewPeer(connB, timeout, zap.NewNop())
	go a.ReadLoop(context.Background())
	go b.ReadLoop(context.Background())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

type addInput struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestCallResolvesWithResponse(t *testing.T) {
	a, b := testPeers(t, time.Second)

	b.Register("math.add", Procedure{
		Handle: func(_ context.Context, input json.RawMessage) (interface{}, error) {
			var in addInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return in.X + in.Y, nil
		},
	})

	out, err := a.Call(context.Background(), "math.add", addInput{X: 2, Y: 3})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var sum int
	if err := json.Unmarshal(out, &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum != 5 {
		t.Fatalf("expected 5, got %d", sum)
	}
}

// Concurrent calls must each resolve exactly once with their own result,
// matched by correlation id.
func TestCallCorrelation(t *testing.T) {
	a, b := testPeers(t, time.Second)

	b.Register("echo", Procedure{
		Handle: func(_ context.Context, input json.RawMessage) (interface{}, error) {
			var n int
			json.Unmarshal(input, &n)
			return n * 10, nil
		},
	})

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := a.Call(context.Background(), "echo", n)
			if err != nil {
				t.Errorf("call %d: %v", n, err)
				return
			}
			var got int
			json.Unmarshal(out, &got)
			if got != n*10 {
				t.Errorf("call %d: expected %d, got %d", n, n*10, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestCallUnknownPathRejectsWithNotFound(t *testing.T) {
	a, b := testPeers(t, time.Second)
	b.Register("known.leaf", Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) { return nil, nil },
	})

	tests := []string{"unknown", "known", "known.leaf.deeper", "known.other"}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			_, err := a.Call(context.Background(), path, nil)
			var callErr *CallError
			if !errors.As(err, &callErr) {
				t.Fatalf("expected a CallError, got %v", err)
			}
			if callErr.Code != CodeNotFound {
				t.Fatalf("expected %s, got %s", CodeNotFound, callErr.Code)
			}
		})
	}
}

func TestLastRegistrationWins(t *testing.T) {
	a, b := testPeers(t, time.Second)

	b.Register("v", Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) { return "old", nil },
	})
	b.Register("v", Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) { return "new", nil },
	})

	out, err := a.Call(context.Background(), "v", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var got string
	json.Unmarshal(out, &got)
	if got != "new" {
		t.Fatalf("expected the later registration to win, got %q", got)
	}
}

func TestValidationFailureSkipsHandler(t *testing.T) {
	a, b := testPeers(t, time.Second)

	invoked := false
	b.Register("strict", Procedure{
		Validate: func(json.RawMessage) error { return errors.New("bad input") },
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			invoked = true
			return nil, nil
		},
	})

	_, err := a.Call(context.Background(), "strict", nil)
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Code != CodeInvalidInput {
		t.Fatalf("expected invalid_input CallError, got %v", err)
	}
	if invoked {
		t.Fatal("handler must not run on validation failure")
	}
}

func TestHandlerFailureExposesMessageOnly(t *testing.T) {
	a, b := testPeers(t, time.Second)

	b.Register("boom", Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			return nil, errors.New("something broke")
		},
	})
	b.Register("panic", Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			panic("secret internal detail")
		},
	})

	_, err := a.Call(context.Background(), "boom", nil)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Message != "something broke" {
		t.Fatalf("unexpected message %q", callErr.Message)
	}

	_, err = a.Call(context.Background(), "panic", nil)
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Message != "internal handler failure" {
		t.Fatalf("panic details must not cross the wire, got %q", callErr.Message)
	}
}

func TestNotificationDispatch(t *testing.T) {
	a, b := testPeers(t, time.Second)

	got := make(chan string, 1)
	b.Register("note", Procedure{
		Handle: func(_ context.Context, input json.RawMessage) (interface{}, error) {
			var s string
			json.Unmarshal(input, &s)
			got <- s
			return nil, nil
		},
	})

	if err := a.Notify("note", "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case s := <-got:
		if s != "hello" {
			t.Fatalf("expected hello, got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never reached the handler")
	}
}

func TestSubscribeReceivesStreamUntilEnd(t *testing.T) {
	a, b := testPeers(t, time.Second)

	b.Register("feed", Procedure{
		Stream: func(_ context.Context, _ json.RawMessage, send func(interface{}) error) error {
			for i := 1; i <= 3; i++ {
				if err := send(i); err != nil {
					return err
				}
			}
			return nil
		},
	})

	items := make(chan int, 8)
	unsubscribe, err := a.Subscribe("feed", nil, func(data json.RawMessage) {
		var n int
		json.Unmarshal(data, &n)
		items <- n
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	for want := 1; want <= 3; want++ {
		select {
		case n := <-items:
			if n != want {
				t.Fatalf("expected item %d, got %d", want, n)
			}
		case <-time.After(time.Second):
			t.Fatalf("stream item %d never arrived", want)
		}
	}

	deadline := time.After(time.Second)
	for {
		a.mu.Lock()
		remaining := len(a.subs)
		a.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stream-end should have cleared the subscription")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubscribeMidStreamErrorTearsDown(t *testing.T) {
	a, b := testPeers(t, time.Second)

	b.Register("flaky", Procedure{
		Stream: func(_ context.Context, _ json.RawMessage, send func(interface{}) error) error {
			if err := send("one"); err != nil {
				return err
			}
			return fmt.Errorf("stream broke")
		},
	})

	items := make(chan string, 8)
	_, err := a.Subscribe("flaky", nil, func(data json.RawMessage) {
		var s string
		json.Unmarshal(data, &s)
		items <- s
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case s := <-items:
		if s != "one" {
			t.Fatalf("expected one, got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("first item never arrived")
	}

	deadline := time.After(time.Second)
	for {
		a.mu.Lock()
		remaining := len(a.subs)
		a.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("remote error should have torn the subscription down")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCloseRejectsPendingCallsImmediately(t *testing.T) {
	a, b := testPeers(t, 30*time.Second)

	release := make(chan struct{})
	b.Register("slow", Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			<-release
			return nil, nil
		},
	})
	defer close(release)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Call(context.Background(), "slow", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call must be rejected the instant the channel closes")
	}
}

func TestCallTimesOut(t *testing.T) {
	a, b := testPeers(t, 50*time.Millisecond)

	release := make(chan struct{})
	b.Register("slow", Procedure{
		Handle: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			<-release
			return nil, nil
		},
	})
	defer close(release)

	start := time.Now()
	_, err := a.Call(context.Background(), "slow", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	connA, connB := newPipePair()
	b := NewPeer(connB, time.Second, zap.NewNop())
	defer b.Close()

	ping, _ := json.Marshal(Envelope{Type: TypePing})
	b.HandleMessage(context.Background(), ping)

	raw, err := connA.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(frame.Payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != TypePong {
		t.Fatalf("expected pong, got %s", env.Type)
	}
}

func TestMalformedPayloadIsDroppedWithoutReply(t *testing.T) {
	connA, connB := newPipePair()
	b := NewPeer(connB, time.Second, zap.NewNop())
	defer b.Close()

	b.HandleMessage(context.Background(), []byte("{not json"))

	select {
	case msg := <-connA.in:
		t.Fatalf("malformed input must produce no response, got %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHeartbeatEmitsPings(t *testing.T) {
	connA, connB := newPipePair()
	b := NewPeer(connB, time.Second, zap.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Heartbeat(ctx, 10*time.Millisecond)

	raw, err := connA.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	json.Unmarshal(raw, &frame)
	var env Envelope
	json.Unmarshal(frame.Payload, &env)
	if env.Type != TypePing {
		t.Fatalf("expected ping, got %s", env.Type)
	}
}

package mqttc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherPreservesOrderWithOneWorker(t *testing.T) {
	d := newDispatcher(nil, 1, discardLogger())

	var mu sync.Mutex
	var got []string
	h := func(_ *Client, m Message) {
		mu.Lock()
		got = append(got, m.Topic)
		mu.Unlock()
	}

	want := []string{"a", "b", "c", "d", "e"}
	for _, topic := range want {
		d.submit(Message{Topic: topic}, []MessageHandler{h})
	}
	d.wait()

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	d := newDispatcher(nil, 1, discardLogger())

	var after atomic.Bool
	d.submit(Message{Topic: "boom"}, []MessageHandler{func(*Client, Message) { panic("handler bug") }})
	d.submit(Message{Topic: "ok"}, []MessageHandler{func(*Client, Message) { after.Store(true) }})
	d.wait()

	if !after.Load() {
		t.Fatal("handler after a panic did not run")
	}
}

func TestDispatcherWorkerLimit(t *testing.T) {
	const workers = 3
	d := newDispatcher(nil, workers, discardLogger())

	var running, peak atomic.Int32
	release := make(chan struct{})
	h := func(*Client, Message) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	}

	for i := 0; i < 10; i++ {
		d.submit(Message{}, []MessageHandler{h})
	}

	deadline := time.Now().Add(testTimeout)
	for running.Load() < workers {
		if time.Now().After(deadline) {
			t.Fatalf("only %d handlers running", running.Load())
		}
		time.Sleep(time.Millisecond)
	}
	if n := d.pending(); n != 10-workers {
		t.Errorf("pending() = %d, want %d", n, 10-workers)
	}

	close(release)
	d.wait()
	if p := peak.Load(); p > workers {
		t.Errorf("peak concurrency = %d, want at most %d", p, workers)
	}
}

func TestDispatcherIgnoresEmptySubmit(t *testing.T) {
	d := newDispatcher(nil, 1, discardLogger())
	d.submit(Message{}, nil)
	d.wait()
	if d.pending() != 0 {
		t.Errorf("pending() = %d", d.pending())
	}
}

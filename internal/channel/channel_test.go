package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn scripted by the test acting as the host.
type fakeConn struct {
	mu         sync.Mutex
	writes     []Message
	failWrites bool

	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("fake: connection closed")
	case data := <-c.inbound:
		return data, nil
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("fake: write failed")
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.writes = append(c.writes, m)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) setFailWrites(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = fail
}

func (c *fakeConn) written() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.writes))
	copy(out, c.writes)
	return out
}

// send delivers v as an inbound message.
func (c *fakeConn) send(t *testing.T, m Message) {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal inbound: %v", err)
	}
	c.inbound <- data
}

// scriptDialer fails the first failures dials, then hands out fresh conns.
type scriptDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	conns    []*fakeConn
}

func (d *scriptDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("fake: dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// manualSched records scheduled reconnects; the test fires them explicitly.
type manualSched struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
	fired  int
}

func (s *manualSched) schedule(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, fn)
	return func() {}
}

func (s *manualSched) delaysSnapshot() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// fireNext runs the oldest unfired scheduled callback.
func (s *manualSched) fireNext(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if s.fired >= len(s.fns) {
		s.mu.Unlock()
		t.Fatal("no scheduled reconnect to fire")
	}
	fn := s.fns[s.fired]
	s.fired++
	s.mu.Unlock()
	fn()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	return Config{
		URL:               "ws://host.test/channel",
		HeartbeatInterval: time.Hour, // disabled unless a test wants it
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 2000 * time.Millisecond},
		{3, 4000 * time.Millisecond},
		{4, 8000 * time.Millisecond},
		{5, 10000 * time.Millisecond},
		{9, 10000 * time.Millisecond},
	}
	for _, tc := range cases {
		got := backoffDelay(tc.failures, DefaultInitialBackoff, DefaultMaxBackoff)
		if got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestReconnectScenario(t *testing.T) {
	dialer := &scriptDialer{failures: 3}
	sched := &manualSched{}
	ch := New(dialer, testConfig(), WithScheduler(sched.schedule))

	ch.Connect()

	// Attempt 1 fails -> 1000 ms scheduled.
	waitFor(t, "first retry scheduled", func() bool { return len(sched.delaysSnapshot()) == 1 })
	sched.fireNext(t)
	// Attempt 2 fails -> 2000 ms.
	waitFor(t, "second retry scheduled", func() bool { return len(sched.delaysSnapshot()) == 2 })
	sched.fireNext(t)
	// Attempt 3 fails -> 4000 ms.
	waitFor(t, "third retry scheduled", func() bool { return len(sched.delaysSnapshot()) == 3 })
	sched.fireNext(t)

	// Attempt 4 succeeds.
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })

	want := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond}
	got := sched.delaysSnapshot()
	for i, w := range want {
		if got[i] != w {
			t.Errorf("delay %d = %v, want %v", i, got[i], w)
		}
	}

	// An unexpected disconnect after success restarts the schedule at 1000 ms.
	dialer.conn(0).Close()
	waitFor(t, "retry after disconnect", func() bool { return len(sched.delaysSnapshot()) == 4 })
	if got := sched.delaysSnapshot()[3]; got != 1000*time.Millisecond {
		t.Errorf("post-success retry delay = %v, want 1s", got)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := &scriptDialer{}
	ch := New(dialer, testConfig())

	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })

	ch.Connect()
	ch.Kick()
	time.Sleep(10 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d after redundant Connect/Kick, want 1", got)
	}
}

func TestOutboundQueueBound(t *testing.T) {
	dialer := &scriptDialer{failures: 1000} // never connects during the test
	sched := &manualSched{}
	ch := New(dialer, testConfig(), WithScheduler(sched.schedule))

	for i := 0; i < 55; i++ {
		if ok := ch.Send(Message{Kind: KindSendMessage, RequestID: fmt.Sprintf("r%d", i)}); ok {
			t.Fatalf("Send %d = true while disconnected", i)
		}
	}
	if got := ch.QueueLen(); got != DefaultQueueCapacity {
		t.Errorf("queue length = %d, want %d", got, DefaultQueueCapacity)
	}
}

func TestQueueFlushesInOrderOnConnect(t *testing.T) {
	dialer := &scriptDialer{}
	ch := New(dialer, testConfig())

	ch.Send(Message{Kind: KindSendMessage, RequestID: "r1"})
	ch.Send(Message{Kind: KindSendMessage, RequestID: "r2"})
	ch.Send(Message{Kind: KindSendMessage, RequestID: "r3"})

	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })

	conn := dialer.conn(0)
	waitFor(t, "flush", func() bool { return len(conn.written()) == 3 })
	for i, want := range []string{"r1", "r2", "r3"} {
		if got := conn.written()[i].RequestID; got != want {
			t.Errorf("flushed message %d = %q, want %q", i, got, want)
		}
	}
	if ch.QueueLen() != 0 {
		t.Errorf("queue length after flush = %d, want 0", ch.QueueLen())
	}
}

func TestSendDeliversImmediatelyWhenConnected(t *testing.T) {
	dialer := &scriptDialer{}
	ch := New(dialer, testConfig())
	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })

	if ok := ch.Send(Message{Kind: KindSendMessage, RequestID: "now"}); !ok {
		t.Fatal("Send = false while connected")
	}
	conn := dialer.conn(0)
	waitFor(t, "delivery", func() bool { return len(conn.written()) == 1 })
	if m := conn.written()[0]; m.Timestamp == 0 {
		t.Error("sent message has zero timestamp")
	}
}

func TestHeartbeatFailureTriggersReconnect(t *testing.T) {
	dialer := &scriptDialer{}
	sched := &manualSched{}
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	ch := New(dialer, cfg, WithScheduler(sched.schedule))

	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })

	// First heartbeats succeed.
	conn := dialer.conn(0)
	waitFor(t, "heartbeat", func() bool {
		for _, m := range conn.written() {
			if m.Kind == KindHeartbeat {
				return true
			}
		}
		return false
	})

	// A failing probe must proactively tear the connection down.
	conn.setFailWrites(true)
	waitFor(t, "teardown", func() bool { return ch.State() == StateDisconnected })
	waitFor(t, "reconnect scheduled", func() bool { return len(sched.delaysSnapshot()) >= 1 })
}

func TestDuplicateCompletionIsIgnored(t *testing.T) {
	dialer := &scriptDialer{}
	var mu sync.Mutex
	var got []Message
	ch := New(dialer, testConfig(), WithHandler(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}))
	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })

	conn := dialer.conn(0)
	conn.send(t, Message{Kind: KindStreamEnd, RequestID: "req-1"})
	conn.send(t, Message{Kind: KindStreamEnd, RequestID: "req-1"}) // duplicate
	conn.send(t, Message{Kind: KindStreamChunk, RequestID: "req-2"})

	waitFor(t, "chunk delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	})

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	ends := 0
	for _, m := range got {
		if m.Kind == KindStreamEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Errorf("handler saw %d STREAM_END for req-1, want 1", ends)
	}
}

func TestRequestResolvesOnResponse(t *testing.T) {
	dialer := &scriptDialer{}
	ids := 0
	ch := New(dialer, testConfig(), WithIDGenerator(func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}))
	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })
	conn := dialer.conn(0)

	go func() {
		// Reply as soon as the request hits the wire.
		for i := 0; i < 500; i++ {
			if len(conn.written()) == 1 {
				conn.send(t, Message{
					Kind:      KindResponse,
					RequestID: "id-1",
					Payload:   json.RawMessage(`{"answer":42}`),
				})
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	resp, err := ch.Request(context.Background(), "VISION_QUERY", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.RequestID != "id-1" {
		t.Errorf("response id = %q, want id-1", resp.RequestID)
	}
}

func TestRequestTimesOut(t *testing.T) {
	dialer := &scriptDialer{}
	cfg := testConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	ch := New(dialer, cfg)
	ch.Connect()
	waitFor(t, "connected", func() bool { return ch.State() == StateConnected })

	_, err := ch.Request(context.Background(), "VISION_QUERY", nil)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}

	// A late response after the timeout must be ignored without panicking and
	// must not reach the handler. (Cleanup is idempotent even when racing a
	// disconnect.)
	conn := dialer.conn(0)
	conn.send(t, Message{Kind: KindResponse, RequestID: "stale"})
	ch.Disconnect()
	time.Sleep(10 * time.Millisecond)
}

func TestDisconnectClearsQueue(t *testing.T) {
	dialer := &scriptDialer{failures: 1000}
	sched := &manualSched{}
	ch := New(dialer, testConfig(), WithScheduler(sched.schedule))

	ch.Send(Message{Kind: KindSendMessage})
	ch.Send(Message{Kind: KindSendMessage})
	if ch.QueueLen() != 2 {
		t.Fatalf("queue length = %d, want 2", ch.QueueLen())
	}

	ch.Disconnect()
	if ch.QueueLen() != 0 {
		t.Errorf("queue length after Disconnect = %d, want 0", ch.QueueLen())
	}
	if ch.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", ch.State())
	}
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := newSeenSet(3)
	for _, id := range []string{"a", "b", "c"} {
		if s.observe(id) {
			t.Errorf("observe(%q) = duplicate on first sight", id)
		}
	}
	// "d" evicts "a".
	s.observe("d")
	if s.observe("a") {
		t.Error("evicted id still reported as duplicate")
	}
	if !s.observe("d") {
		t.Error("retained id not reported as duplicate")
	}
}

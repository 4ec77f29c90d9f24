package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/livereload/internal/transport"
)

const waitTimeout = 2 * time.Second

// fakeConn is a scripted transport. The test plays the server through
// messages and closeWith.
type fakeConn struct {
	messages chan string
	closed   chan int

	mu         sync.Mutex
	closeCodes []int
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		messages: make(chan string, 16),
		closed:   make(chan int, 1),
	}
}

func (c *fakeConn) Receive() (string, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case code := <-c.closed:
		if code == transport.CloseAbnormal {
			return "", errors.New("unexpected EOF")
		}
		return "", &websocket.CloseError{Code: code}
	}
}

// Close records the code and echoes it back like a well-behaved server.
func (c *fakeConn) Close(code int) error {
	c.mu.Lock()
	c.closeCodes = append(c.closeCodes, code)
	c.mu.Unlock()
	c.closeWith(code)
	return nil
}

// closeWith ends the channel from the server side.
func (c *fakeConn) closeWith(code int) {
	c.closeOnce.Do(func() {
		c.closed <- code
	})
}

func (c *fakeConn) codes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

// dialResult is one scripted outcome of Dial.
type dialResult struct {
	conn *fakeConn
	err  error
	// gate, if set, blocks the dial until closed.
	gate chan struct{}
}

type fakeDialer struct {
	results chan dialResult
	dials   chan string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		results: make(chan dialResult, 16),
		dials:   make(chan string, 16),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.dials <- url
	var r dialResult
	select {
	case r = <-d.results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

// succeed scripts the next dial to return a fresh connection.
func (d *fakeDialer) succeed() *fakeConn {
	conn := newFakeConn()
	d.results <- dialResult{conn: conn}
	return conn
}

func (d *fakeDialer) fail() {
	d.results <- dialResult{err: errors.New("connection refused")}
}

type fakeTask struct {
	delay time.Duration
	run   func()

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTask) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire runs the task as if its delay had elapsed.
func (t *fakeTask) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.run()
}

// fakeScheduler hands scheduled tasks to the test instead of running them.
type fakeScheduler struct {
	tasks chan *fakeTask
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(chan *fakeTask, 16)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	task := &fakeTask{delay: d, run: f}
	s.tasks <- task
	return task
}

type recorder struct {
	reloads  chan struct{}
	messages chan string
	states   chan StateEvent
}

func newRecorder() *recorder {
	return &recorder{
		reloads:  make(chan struct{}, 16),
		messages: make(chan string, 16),
		states:   make(chan StateEvent, 64),
	}
}

func (r *recorder) Reload()           { r.reloads <- struct{}{} }
func (r *recorder) Handle(raw string) { r.messages <- raw }

// harness wires a Manager to fakes and runs it in the background.
type harness struct {
	t         *testing.T
	dialer    *fakeDialer
	scheduler *fakeScheduler
	rec       *recorder
	manager   *Manager
	cancel    context.CancelFunc
	result    chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		dialer:    newFakeDialer(),
		scheduler: newFakeScheduler(),
		rec:       newRecorder(),
		result:    make(chan error, 1),
	}

	m, err := NewManager(Options{
		URL:               "ws://dev.test/livereload",
		ReconnectInterval: 1500 * time.Millisecond,
		Dialer:            h.dialer,
		Handler:           h.rec,
		Reloader:          h.rec,
		Scheduler:         h.scheduler,
		OnStateChange: func(ev StateEvent) {
			h.rec.states <- ev
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = m
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.t.Cleanup(cancel)
	go func() {
		h.result <- h.manager.Run(ctx)
	}()
}

// waitState consumes state events until one reaches want.
func (h *harness) waitState(want State) StateEvent {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-h.rec.states:
			if ev.NewState == want {
				return ev
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for state %s (current %s)", want, h.manager.State())
		}
	}
}

func (h *harness) waitDial() {
	h.t.Helper()
	select {
	case <-h.dialer.dials:
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a dial")
	}
}

func (h *harness) waitTask() *fakeTask {
	h.t.Helper()
	select {
	case task := <-h.scheduler.tasks:
		return task
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a scheduled reconnection")
		return nil
	}
}

func (h *harness) waitResult() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func (h *harness) waitMessage() string {
	h.t.Helper()
	select {
	case msg := <-h.rec.messages:
		return msg
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a message")
		return ""
	}
}

func (h *harness) waitReload() {
	h.t.Helper()
	select {
	case <-h.rec.reloads:
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a reload")
	}
}

// assertQuiet checks that nothing arrives on ch for a short while.
func assertQuiet[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

package connection

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/lawnchairsociety/livereload/internal/logger"
	"github.com/lawnchairsociety/livereload/internal/transport"
)

func TestManager_FirstOpenDoesNotReload(t *testing.T) {
	rec := logger.Capture(slog.LevelInfo)
	defer logger.SetHandler(nil, "")

	h := newHarness(t)
	h.dialer.succeed()
	h.start()

	ev := h.waitState(StateOpen)
	if ev.IsReconnectAttempt {
		t.Error("first connection should not be a reconnect attempt")
	}

	assertQuiet(t, h.rec.reloads, "reload")
	if !rec.Contains("Connected.") {
		t.Errorf("expected a connected log line, got %s", rec.String())
	}
	if snap := h.manager.Current(); snap.State != StateOpen || snap.Attempt != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestManager_DeliversMessagesInOrder(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.start()
	h.waitState(StateOpen)

	want := []string{"update_css:a.css", "reload", "foo:bar"}
	for _, m := range want {
		conn.messages <- m
	}

	for _, w := range want {
		if got := h.waitMessage(); got != w {
			t.Errorf("got message %q, want %q", got, w)
		}
	}
}

func TestManager_NormalClosureIsTerminal(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.start()
	h.waitState(StateOpen)

	conn.closeWith(transport.CloseNormal)

	ev := h.waitState(StateClosedIntentional)
	if ev.Code != transport.CloseNormal {
		t.Errorf("expected code 1000, got %d", ev.Code)
	}
	if err := h.waitResult(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	assertQuiet(t, h.scheduler.tasks, "reconnection task")
	assertQuiet(t, h.dialer.dials, "dial")
}

func TestManager_AbnormalClosureSchedulesSingleReconnect(t *testing.T) {
	codes := []int{
		transport.CloseGoingAway,
		transport.CloseAbnormal,
		1005, // no status
		1011, // server error
		4000, // application defined
	}

	for _, code := range codes {
		t.Run(transport.CloseCodeName(code), func(t *testing.T) {
			h := newHarness(t)
			conn := h.dialer.succeed()
			h.start()
			h.waitState(StateOpen)

			conn.closeWith(code)

			ev := h.waitState(StateClosedUnexpected)
			if ev.Code != code {
				t.Errorf("expected close code %d, got %d", code, ev.Code)
			}

			task := h.waitTask()
			if task.delay != 1500*time.Millisecond {
				t.Errorf("reconnect delay = %v, want 1.5s", task.delay)
			}
			assertQuiet(t, h.scheduler.tasks, "second reconnection task")

			h.dialer.succeed()
			task.fire()
			h.waitDial() // initial
			h.waitDial() // reconnect

			ev = h.waitState(StateConnecting)
			if !ev.IsReconnectAttempt {
				t.Error("connection after the delay should be a reconnect attempt")
			}
			if ev.OldState != StateClosedUnexpected {
				t.Errorf("expected transition from closed_unexpected, got %s", ev.OldState)
			}
		})
	}
}

func TestManager_ReconnectOpenReloadsAndStops(t *testing.T) {
	h := newHarness(t)
	first := h.dialer.succeed()
	h.start()
	h.waitState(StateOpen)

	first.closeWith(transport.CloseGoingAway)
	task := h.waitTask()

	second := h.dialer.succeed()
	task.fire()

	ev := h.waitState(StateOpen)
	if !ev.IsReconnectAttempt {
		t.Fatal("expected the reconnect attempt to open")
	}
	h.waitReload()

	// The reload supersedes the connection: later messages are not handled.
	second.messages <- "update_css:app.css"
	assertQuiet(t, h.rec.messages, "message on a superseded connection")

	if h.manager.State() != StateOpen {
		t.Errorf("state = %s, want open until the page tears down", h.manager.State())
	}
}

func TestManager_DialFailureSchedulesReconnect(t *testing.T) {
	h := newHarness(t)
	h.dialer.fail()
	h.start()

	ev := h.waitState(StateClosedUnexpected)
	if ev.Code != transport.CloseAbnormal {
		t.Errorf("failed dial should close with %d, got %d", transport.CloseAbnormal, ev.Code)
	}

	task := h.waitTask()
	h.dialer.succeed()
	task.fire()

	h.waitState(StateOpen)
	h.waitReload()
}

func TestManager_RetriesIndefinitely(t *testing.T) {
	h := newHarness(t)
	h.dialer.fail()
	h.start()

	for i := 0; i < 5; i++ {
		task := h.waitTask()
		if task.delay != 1500*time.Millisecond {
			t.Fatalf("attempt %d: delay %v, want a constant 1.5s", i, task.delay)
		}
		h.dialer.fail()
		task.fire()
	}

	h.waitTask()
	if got := h.manager.Current().Attempt; got != 6 {
		t.Errorf("expected 6 attempts, got %d", got)
	}
}

func TestManager_ShutdownClosesWithNormalCode(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.start()
	h.waitState(StateOpen)

	h.manager.Shutdown()
	h.manager.Shutdown() // idempotent

	h.waitState(StateClosedIntentional)
	if err := h.waitResult(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}

	codes := conn.codes()
	if len(codes) != 1 || codes[0] != transport.CloseNormal {
		t.Errorf("expected a single close with 1000, got %v", codes)
	}
	assertQuiet(t, h.scheduler.tasks, "reconnection task")

	select {
	case <-h.manager.Done():
	default:
		t.Error("Done should be closed after Run returns")
	}
}

func TestManager_ShutdownCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.start()
	h.waitState(StateOpen)

	conn.closeWith(transport.CloseAbnormal)
	task := h.waitTask()

	h.manager.Shutdown()

	h.waitState(StateClosedIntentional)
	if err := h.waitResult(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	if !task.isStopped() {
		t.Error("pending reconnection should be stopped by shutdown")
	}

	h.waitDial() // initial
	assertQuiet(t, h.dialer.dials, "dial after shutdown")
}

func TestManager_ShutdownWhileConnecting(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	gate := make(chan struct{})
	h.dialer.results <- dialResult{conn: conn, gate: gate}
	h.start()
	h.waitDial()

	h.manager.Shutdown()
	close(gate)

	h.waitState(StateClosedIntentional)
	if err := h.waitResult(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}

	if codes := conn.codes(); len(codes) != 1 || codes[0] != transport.CloseNormal {
		t.Errorf("connection opened during shutdown should close with 1000, got %v", codes)
	}
	assertQuiet(t, h.rec.reloads, "reload")
}

func TestManager_CloseAfterShutdownIsIntentional(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.results <- dialResult{conn: conn}
	h.start()
	h.waitState(StateOpen)

	// The server drops the connection while the client is tearing down.
	conn.closeWith(transport.CloseAbnormal)
	h.manager.Shutdown()

	if err := h.waitResult(); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	// Either the close arrived first (timer scheduled, then stopped) or
	// after (no timer); no reconnection may run in either case.
	select {
	case task := <-h.scheduler.tasks:
		if !task.isStopped() {
			t.Error("reconnection task left pending after shutdown")
		}
	default:
	}
}

func TestManager_ContextCancel(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.start()
	h.waitState(StateOpen)

	h.cancel()

	if err := h.waitResult(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	deadline := time.After(waitTimeout)
	for len(conn.codes()) == 0 {
		select {
		case <-deadline:
			t.Fatal("transport was not closed on cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManager_RunTwice(t *testing.T) {
	h := newHarness(t)
	h.dialer.succeed()
	h.start()
	h.waitState(StateOpen)

	if err := h.manager.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestNewManager_Validation(t *testing.T) {
	rec := newRecorder()
	valid := Options{
		URL:               "ws://dev.test/livereload",
		ReconnectInterval: time.Second,
		Dialer:            newFakeDialer(),
		Handler:           rec,
		Reloader:          rec,
	}

	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{"missing url", func(o *Options) { o.URL = "" }},
		{"missing dialer", func(o *Options) { o.Dialer = nil }},
		{"missing handler", func(o *Options) { o.Handler = nil }},
		{"missing reloader", func(o *Options) { o.Reloader = nil }},
		{"negative interval", func(o *Options) { o.ReconnectInterval = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			if _, err := NewManager(opts); err == nil {
				t.Error("expected an error")
			}
		})
	}

	m, err := NewManager(valid)
	if err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}
	if m.opts.Scheduler == nil {
		t.Error("expected a default scheduler")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosedIntentional, "closed_intentional"},
		{StateClosedUnexpected, "closed_unexpected"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

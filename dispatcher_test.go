package loom

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestOnReadThreadDispatcherRunsInline(t *testing.T) {
	d := OnReadThreadDispatcher()
	ran := false
	d.dispatchHTTP(func() { ran = true })
	if !ran {
		t.Fatal("expected inline execution")
	}
}

func TestFiberSessionDispatcherHonorsFlags(t *testing.T) {
	d := NewFiberSessionDispatcher(DispatcherFlags{UseForWebsocket: true})
	defer d.disposeOnClose()

	var httpRan int32
	d.dispatchHTTP(func() { atomic.StoreInt32(&httpRan, 1) })
	if atomic.LoadInt32(&httpRan) == 0 {
		t.Fatal("HTTP traffic should run inline when UseForHTTP is unset")
	}

	done := make(chan struct{})
	d.dispatchWS(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WS task never ran on the fiber")
	}
}

func TestDisposeAfterHTTPDisposesFiberWhenConfigured(t *testing.T) {
	d := NewFiberSessionDispatcher(DispatcherFlags{UseForHTTP: true})
	d.disposeAfterHTTP()

	done := make(chan struct{})
	d.dispatchHTTP(func() { close(done) })
	select {
	case <-done:
		t.Fatal("task submitted after disposeAfterHTTP should not run")
	case <-time.After(50 * time.Millisecond):
	}
}

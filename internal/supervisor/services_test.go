// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type blockingRunner struct {
	started chan struct{}
	err     error
}

func (r *blockingRunner) RunWithContext(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	if r.err != nil {
		return r.err
	}
	return ctx.Err()
}

func (r *blockingRunner) String() string { return "blocking-runner" }

func TestRunnerServiceCleanShutdown(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{})}
	svc := NewRunnerService(r, "")

	if svc.String() != "blocking-runner" {
		t.Errorf("name %q, want from Stringer", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-r.started
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("clean shutdown returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

func TestRunnerServicePropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	r := &blockingRunner{started: make(chan struct{}), err: boom}
	svc := NewRunnerService(r, "failing")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.started
		cancel()
	}()

	if err := svc.Serve(ctx); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom propagated for restart", err)
	}
}

type fakeHTTPServer struct {
	listenErr error
	closed    chan struct{}
	shutdowns int
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.closed
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(context.Context) error {
	s.shutdowns++
	close(s.closed)
	return nil
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	srv := &fakeHTTPServer{listenErr: errors.New("address in use")}
	svc := NewHTTPServerService(srv, time.Second)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("listen failure not propagated")
	}
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	srv := &fakeHTTPServer{closed: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("graceful shutdown returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	if srv.shutdowns != 1 {
		t.Errorf("shutdown called %d times, want 1", srv.shutdowns)
	}
}

package http

import (
	"testing"

	"github.com/originhttp/origin/test"
)

func TestNewServerAppliesDefaults(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	test.AssertTrue(t, "origin", s.Name)
	test.AssertTrue(t, 16, s.WorkerCount)
	test.AssertTrue(t, DefaultHTTPQueueLength, s.QueueLength)
	test.AssertTrue(t, DefaultKeepAliveTimeout, s.KeepAliveTimeout)
}

func TestNewServerRejectsOutOfRangeWorkerCount(t *testing.T) {
	_, err := NewServer(ServerConfig{WorkerCount: 512})
	test.AssertTrue(t, true, err != nil)
}

func TestNewServerRejectsNegativeQueueLength(t *testing.T) {
	_, err := NewServer(ServerConfig{QueueLength: -1})
	test.AssertTrue(t, true, err != nil)
}

func TestNewServerRejectsNegativeTimeout(t *testing.T) {
	_, err := NewServer(ServerConfig{KeepAliveTimeout: -1})
	test.AssertTrue(t, true, err != nil)
}

func TestServerRecordResultAndStats(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	s.recordResult(ResultBodyReceived, 1)
	s.recordResult(ResultBodyReceived, 1)
	s.recordResult(ResultTimeout, 1)

	stats := s.Stats()
	test.AssertTrue(t, int64(2), stats.Results["body_received"])
	test.AssertTrue(t, int64(1), stats.Results["timeout"])
}

func TestServerNextConnIDMonotonic(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	first := s.NextConnID()
	second := s.NextConnID()
	test.AssertTrue(t, true, second > first)
}

func TestServerWorkerBookkeeping(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	cw := &ConnectionWorker{server: s}
	s.addWorker(cw)
	test.AssertTrue(t, 1, len(s.liveWorkers()))

	s.removeWorker(cw)
	test.AssertTrue(t, 0, len(s.liveWorkers()))
}

// OnConnect/OnDisconnect are the sole source of active/total connection
// counts -- addWorker/removeWorker only track which ConnectionWorkers are
// live for Acceptor.Shutdown to terminate, independent of dispatch style.
func TestServerOnConnectOnDisconnect(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	s.OnConnect()
	s.OnConnect()
	stats := s.Stats()
	test.AssertTrue(t, int64(2), stats.TotalConnections)
	test.AssertTrue(t, int64(2), stats.ActiveConnections)

	s.OnDisconnect()
	test.AssertTrue(t, int64(2), s.Stats().TotalConnections)
	test.AssertTrue(t, int64(1), s.Stats().ActiveConnections)
}

func TestServerRecordResultInvokesMetricsRecorder(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	var gotResult string
	var gotDelta int64
	s.MetricsRecorder = func(result string, delta int64) {
		gotResult, gotDelta = result, delta
	}

	s.recordResult(ResultError, 7)
	test.AssertTrue(t, "error", gotResult)
	test.AssertTrue(t, int64(1), gotDelta)
}

func TestNewServerDefaultsPoolEnabled(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	test.AssertTrue(t, false, s.PoolDisabled)
}

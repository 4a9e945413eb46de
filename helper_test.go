package imapnio

import (
	"net"
	"sync"
	"testing"
	"time"
)

// createTestTCPPair creates a connected pair of TCP connections for testing.
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	select {
	case clientConn := <-clientChan:
		t.Cleanup(func() {
			serverConn.Close()
			clientConn.Close()
		})
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

// mockLogger records messages; it is shared between the test and the
// session goroutines.
type mockLogger struct {
	mu   sync.Mutex
	msgs []string
	args [][]any
}

func (l *mockLogger) record(msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, args)
}

func (l *mockLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *mockLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.record(msg, args) }

// argsFor returns the key-value pairs of every message logged as msg.
func (l *mockLogger) argsFor(msg string) [][]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out [][]any
	for i, m := range l.msgs {
		if m == msg {
			out = append(out, l.args[i])
		}
	}
	return out
}

func (l *mockLogger) has(msg string) bool {
	return len(l.argsFor(msg)) > 0
}

package serialbridge

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// MockPort is an in-memory Porter for tests. Inbound telemetry is fed with
// FeedLine; everything the bridge writes is captured for inspection.
type MockPort struct {
	readR *io.PipeReader
	readW *io.PipeWriter

	writeMu sync.Mutex
	written bytes.Buffer

	closeOnce sync.Once
}

// NewMockPort returns a port with nothing to read yet.
func NewMockPort() *MockPort {
	r, w := io.Pipe()
	return &MockPort{readR: r, readW: w}
}

func (m *MockPort) Read(p []byte) (int, error) {
	return m.readR.Read(p)
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.written.Write(p)
}

// FeedLine delivers one inbound line to the reader. It blocks until the
// bridge's scanner consumes it, which keeps tests deterministic.
func (m *MockPort) FeedLine(line string) error {
	_, err := m.readW.Write([]byte(line + "\n"))
	return err
}

// WrittenLines returns every complete line written to the port so far.
func (m *MockPort) WrittenLines() []string {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	out := strings.TrimRight(m.written.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// Close tears down the read pipe, ending any in-flight scan.
func (m *MockPort) Close() error {
	m.closeOnce.Do(func() {
		m.readW.Close()
		m.readR.Close()
	})
	return nil
}

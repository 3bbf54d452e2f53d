package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailedHandshakes_LimitPerHost(t *testing.T) {
	f := newFailedHandshakes()
	assert.True(t, f.Allowed("192.168.1.1:12345"))

	for i := 0; i < handshakeFailLimit-1; i++ {
		f.Record("192.168.1.1:12345")
	}
	assert.True(t, f.Allowed("192.168.1.1:5555"), "below the limit")

	f.Record("192.168.1.1:12345")
	assert.False(t, f.Allowed("192.168.1.1:5555"), "port does not matter")
	assert.True(t, f.Allowed("192.168.1.2:12345"), "other hosts unaffected")
}

func TestFailedHandshakes_Expire(t *testing.T) {
	now := time.Now()
	f := newFailedHandshakes()
	f.now = func() time.Time { return now }

	for i := 0; i < handshakeFailLimit; i++ {
		f.Record("10.0.0.1:9000")
	}
	assert.False(t, f.Allowed("10.0.0.1:9000"))

	now = now.Add(handshakeFailWindow + time.Second)
	assert.True(t, f.Allowed("10.0.0.1:9000"))
	assert.Zero(t, f.Len(), "expired host is forgotten")
}

func TestFailedHandshakes_Prune(t *testing.T) {
	now := time.Now()
	f := newFailedHandshakes()
	f.now = func() time.Time { return now }
	f.Record("10.0.0.1:1")
	f.Record("10.0.0.2:1")

	now = now.Add(handshakeFailWindow / 2)
	f.Record("10.0.0.2:1")
	now = now.Add(handshakeFailWindow/2 + time.Second)

	f.Prune()
	assert.Equal(t, 1, f.Len())
}

func TestFailedHandshakes_EvictsOldestHost(t *testing.T) {
	now := time.Now()
	f := newFailedHandshakes()
	f.now = func() time.Time { return now }

	for i := 0; i < handshakeFailHosts; i++ {
		f.Record(fmt.Sprintf("host-%d", i))
		now = now.Add(time.Millisecond)
	}
	f.Record("newcomer")

	assert.Equal(t, handshakeFailHosts, f.Len())
	f.mu.Lock()
	_, oldest := f.hosts["host-0"]
	_, fresh := f.hosts["newcomer"]
	f.mu.Unlock()
	assert.False(t, oldest)
	assert.True(t, fresh)
}

func TestFailedHandshakes_RunStopsWithContext(t *testing.T) {
	f := newFailedHandshakes()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

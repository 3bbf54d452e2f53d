package gateway

import (
	"context"
	"net"
	"sync"
	"time"
)

const (
	handshakeFailWindow = 5 * time.Minute
	handshakeFailLimit  = 10
	handshakeFailHosts  = 10000
)

// failedHandshakes counts rejected socket handshakes per remote host and
// refuses new upgrades from hosts over the limit within the window.
type failedHandshakes struct {
	mu    sync.Mutex
	now   func() time.Time
	hosts map[string][]time.Time
}

func newFailedHandshakes() *failedHandshakes {
	return &failedHandshakes{now: time.Now, hosts: make(map[string][]time.Time)}
}

func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}

// recent drops expired failures for host. Caller holds mu.
func (f *failedHandshakes) recent(host string) []time.Time {
	cutoff := f.now().Add(-handshakeFailWindow)
	kept := f.hosts[host][:0]
	for _, at := range f.hosts[host] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(f.hosts, host)
		return nil
	}
	f.hosts[host] = kept
	return kept
}

// Allowed reports whether remoteAddr may attempt another handshake.
func (f *failedHandshakes) Allowed(remoteAddr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recent(remoteHost(remoteAddr))) < handshakeFailLimit
}

// Record notes a failed handshake from remoteAddr. When the host table is
// full the host whose first failure is oldest is forgotten.
func (f *failedHandshakes) Record(remoteAddr string) {
	host := remoteHost(remoteAddr)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, tracked := f.hosts[host]; !tracked && len(f.hosts) >= handshakeFailHosts {
		f.evictOldest()
	}
	f.hosts[host] = append(f.hosts[host], f.now())
}

func (f *failedHandshakes) evictOldest() {
	victim, first := "", time.Time{}
	for host, times := range f.hosts {
		if len(times) == 0 {
			continue
		}
		if victim == "" || times[0].Before(first) {
			victim, first = host, times[0]
		}
	}
	delete(f.hosts, victim)
}

// Prune forgets expired failures for every host.
func (f *failedHandshakes) Prune() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for host := range f.hosts {
		f.recent(host)
	}
}

// Run prunes every interval until ctx is done.
func (f *failedHandshakes) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Prune()
		}
	}
}

// Len returns the number of hosts with tracked failures.
func (f *failedHandshakes) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hosts)
}

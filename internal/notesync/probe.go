package notesync

import (
	"net"
	"time"
)

// ConnectivityProbe reports whether the network is believed reachable. The
// sync service consults it before choosing the online or offline path.
type ConnectivityProbe interface {
	Online() bool
}

// ProbeFunc adapts a function to the ConnectivityProbe interface.
type ProbeFunc func() bool

// Online implements ConnectivityProbe.
func (f ProbeFunc) Online() bool { return f() }

// DialProbe probes reachability by dialing the backend host.
type DialProbe struct {
	Addr    string
	Timeout time.Duration
}

// Online implements ConnectivityProbe.
func (p DialProbe) Online() bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn, err := net.DialTimeout("tcp", p.Addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

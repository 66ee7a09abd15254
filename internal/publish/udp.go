package publish

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gnss-bridge/internal/gps"
)

type udpConn interface {
	Write([]byte) (int, error)
	Close() error
}

type (
	resolveUDPAddrFunc func(network, address string) (*net.UDPAddr, error)
	dialUDPFunc        func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// UDP sends every accepted sample as one datagram to a fixed destination,
// which may be a broadcast address.
type UDP struct {
	dest string
	conn udpConn
	log  zerolog.Logger
	nav  navFilter

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewUDP(dest string, log zerolog.Logger) (*UDP, error) {
	u, err := newUDP(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		c, err := net.DialUDP(network, laddr, raddr)
		if err != nil {
			return nil, err
		}
		if raddr.IP.Equal(net.IPv4bcast) || isBroadcast(raddr.IP) {
			// Linux needs SO_BROADCAST for limited and directed broadcast.
			if err := setBroadcast(c); err != nil {
				_ = c.Close()
				return nil, err
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	u.log = log.With().Str("component", "publish").Str("sink", "udp").Logger()
	return u, nil
}

func newUDP(dest string, resolve resolveUDPAddrFunc, dial dialUDPFunc) (*UDP, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &UDP{dest: dest, conn: conn, log: zerolog.Nop()}, nil
}

func isBroadcast(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && ip4[3] == 255
}

func (u *UDP) PublishNavData(s gps.NavDataSample) {
	if !u.nav.allow(s) {
		return
	}
	u.send(NavJSON(s))
}

func (u *UDP) PublishSystemStatus(s gps.SystemStatusSample) {
	u.send(StatusJSON(s))
}

func (u *UDP) send(payload []byte) {
	if err := u.Send(payload); err != nil {
		u.failed.Add(1)
		u.log.Debug().Err(err).Str("dest", u.dest).Msg("udp send failed")
		return
	}
	u.sent.Add(1)
}

// Stats returns the datagram counters.
func (u *UDP) Stats() (sent, failed uint64) {
	return u.sent.Load(), u.failed.Load()
}

// Send writes one datagram. Empty payloads are skipped.
func (u *UDP) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := u.conn.Write(payload)
	return err
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}

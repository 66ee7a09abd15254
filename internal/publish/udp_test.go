package publish

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gnss-bridge/internal/gps"
)

type fakeConn struct {
	writes   [][]byte
	writeErr error
	closed   bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newFakeUDP(t *testing.T) (*UDP, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	u, err := newUDP("127.0.0.1:4000", net.ResolveUDPAddr, func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) {
		return fc, nil
	})
	require.NoError(t, err)
	return u, fc
}

func TestNewUDP_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return &fakeConn{}, nil
	}

	u, err := newUDP("127.0.0.1:4000", net.ResolveUDPAddr, dial)
	require.NoError(t, err)
	defer u.Close()

	assert.Equal(t, "udp", gotNetwork)
	require.NotNil(t, gotRaddr)
	assert.Equal(t, 4000, gotRaddr.Port)
	assert.True(t, gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)))
}

func TestNewUDP_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) { return nil, resolveErr }
	dial := func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil }

	_, err := newUDP("bad:addr", resolve, dial)
	require.ErrorIs(t, err, resolveErr)
}

func TestUDP_SendEmptyNoWrite(t *testing.T) {
	u, fc := newFakeUDP(t)
	require.NoError(t, u.Send(nil))
	require.NoError(t, u.Send([]byte{}))
	assert.Empty(t, fc.writes)
}

func TestUDP_PublishFiltersNav(t *testing.T) {
	u, fc := newFakeUDP(t)
	s := gps.NavDataSample{Latitude: 48.1, Longitude: 11.5, Heading: 90, Speed: 3, Altitude: 500}

	u.PublishNavData(s)
	u.PublishNavData(s)
	s.Altitude += 0.6
	u.PublishNavData(s)

	require.Len(t, fc.writes, 2)
	assert.Equal(t, `{"lt":48.100000,"lg":11.500000,"hd":90.0,"spd":3.0,"alt":500.0}`, string(fc.writes[0]))
	sent, failed := u.Stats()
	assert.Equal(t, uint64(2), sent)
	assert.Equal(t, uint64(0), failed)
}

func TestUDP_PublishStatusCountsFailures(t *testing.T) {
	u, fc := newFakeUDP(t)
	fc.writeErr = errors.New("boom")

	u.PublishSystemStatus(InitialStatus)
	_, failed := u.Stats()
	assert.Equal(t, uint64(1), failed)

	require.ErrorIs(t, u.Send([]byte{1}), fc.writeErr)
}

func TestUDP_CloseNilConn(t *testing.T) {
	u := &UDP{}
	require.NoError(t, u.Close())
}

func TestIsBroadcast(t *testing.T) {
	assert.True(t, isBroadcast(net.IPv4(192, 168, 1, 255)))
	assert.False(t, isBroadcast(net.IPv4(192, 168, 1, 10)))
	assert.False(t, isBroadcast(net.ParseIP("::1")))
}

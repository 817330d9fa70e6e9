package hid

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEmulator answers the liveness probe on a loopback UDP socket.
func fakeEmulator(t *testing.T) int {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 64)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) == "PINGPING" {
				_, _ = conn.WriteTo([]byte("PONGPONG"), addr)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestUDPEnumerateFindsLiveEmulator(t *testing.T) {
	port := fakeEmulator(t)

	b, err := InitUDP([]int{port}, testLogger())
	require.NoError(t, err)

	infos, err := b.Enumerate(0, 0)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "emulator"+strconv.Itoa(port), infos[0].Path)
}

func TestUDPEnumerateSkipsDeadPort(t *testing.T) {
	// grab a port and close it again so nothing answers
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())

	b, err := InitUDP([]int{port}, testLogger())
	require.NoError(t, err)

	infos, err := b.Enumerate(0, 0)
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestUDPHas(t *testing.T) {
	b, err := InitUDP(nil, testLogger())
	require.NoError(t, err)

	require.True(t, b.Has("emulator21324"))
	require.False(t, b.Has("hidabcdef"))
}

func TestUDPConnectBadPath(t *testing.T) {
	b, err := InitUDP(nil, testLogger())
	require.NoError(t, err)

	_, err = b.Connect("emulatorxyz")
	require.ErrorIs(t, err, ErrNotFound)
}

package hid

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/trezor/bridged/memorywriter"
)

// UDP is a development backend. A token emulator listens on loopback
// UDP and exchanges the same 64-byte reports as real hardware, one
// datagram per report.

const (
	emulatorPrefix  = "emulator"
	emulatorNetwork = "udp"
	probeTimeout    = 500 * time.Millisecond
)

var (
	emulatorPing = []byte("PINGPING")
	emulatorPong = []byte("PONGPONG")
)

type UDP struct {
	ports  []int
	logger *memorywriter.MemoryWriter
}

func InitUDP(ports []int, logger *memorywriter.MemoryWriter) (*UDP, error) {
	return &UDP{
		ports:  ports,
		logger: logger,
	}, nil
}

// Enumerate probes each configured port and reports the live ones.
// The vendor/product filter does not apply to emulators.
func (b *UDP) Enumerate(vendorID, productID uint16) ([]Info, error) {
	var infos []Info

	for _, port := range b.ports {
		if b.ping(port) {
			infos = append(infos, Info{
				Path:      emulatorPrefix + strconv.Itoa(port),
				VendorID:  0,
				ProductID: 0,
			})
		}
	}
	return infos, nil
}

func (b *UDP) Has(path string) bool {
	return strings.HasPrefix(path, emulatorPrefix)
}

func (b *UDP) Connect(path string) (Handle, error) {
	port, err := strconv.Atoi(strings.TrimPrefix(path, emulatorPrefix))
	if err != nil {
		return nil, ErrNotFound
	}
	conn, err := b.dial(port)
	if err != nil {
		return nil, err
	}
	b.logger.Println("udp - connected " + path)
	return conn, nil
}

func (b *UDP) dial(port int) (net.Conn, error) {
	return net.Dial(emulatorNetwork, fmt.Sprintf("127.0.0.1:%d", port))
}

func (b *UDP) ping(port int) bool {
	conn, err := b.dial(port)
	if err != nil {
		return false
	}
	defer conn.Close()

	if _, err := conn.Write(emulatorPing); err != nil {
		return false
	}

	if err := conn.SetReadDeadline(time.Now().Add(probeTimeout)); err != nil {
		return false
	}

	response := make([]byte, len(emulatorPong))
	if _, err := conn.Read(response); err != nil {
		return false
	}
	return bytes.Equal(response, emulatorPong)
}

package hid

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trezor/bridged/memorywriter"
)

type fakeHandle struct {
	reads  [][]byte // one report per Read call
	writes [][]byte
	closed bool
}

func (h *fakeHandle) Read(p []byte) (int, error) {
	if len(h.reads) == 0 {
		return 0, io.EOF
	}
	report := h.reads[0]
	h.reads = h.reads[1:]
	return copy(p, report), nil
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	report := make([]byte, len(p))
	copy(report, p)
	h.writes = append(h.writes, report)
	return len(p), nil
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

type fakeBackend struct {
	infos       []Info
	handles     map[string]*fakeHandle
	failures    int // Connect errors before one succeeds
	enumerrored bool
}

func (b *fakeBackend) Enumerate(vendorID, productID uint16) ([]Info, error) {
	if b.enumerrored {
		return nil, errors.New("backend broke")
	}
	var out []Info
	for _, info := range b.infos {
		if vendorID != 0 && int(vendorID) != info.VendorID {
			continue
		}
		if productID != 0 && int(productID) != info.ProductID {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (b *fakeBackend) Has(path string) bool {
	_, ok := b.handles[path]
	return ok
}

func (b *fakeBackend) Connect(path string) (Handle, error) {
	if b.failures > 0 {
		b.failures--
		return nil, errors.New("busy")
	}
	h, ok := b.handles[path]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func testLogger() *memorywriter.MemoryWriter {
	return memorywriter.New(100, 10, false)
}

func TestBusEnumerateMergesAndSorts(t *testing.T) {
	a := &fakeBackend{infos: []Info{
		{Path: "b", VendorID: 0x1209, ProductID: 0x53c1},
		{Path: "a", VendorID: 0x1209, ProductID: 0x53c1},
	}}
	b := &fakeBackend{infos: []Info{
		{Path: "emulator21324", VendorID: 0, ProductID: 0},
	}}

	bus := NewBus(testLogger(), a, b)
	infos, err := bus.Enumerate([]DeviceSpec{{VendorID: 0x1209, ProductID: 0x53c1}, {}})
	require.NoError(t, err)

	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		paths = append(paths, info.Path)
	}
	require.Equal(t, []string{"a", "b", "emulator21324"}, paths)
}

func TestBusEnumerateDeduplicates(t *testing.T) {
	a := &fakeBackend{infos: []Info{{Path: "dup", VendorID: 0x1209, ProductID: 0x53c1}}}

	bus := NewBus(testLogger(), a)
	specs := []DeviceSpec{
		{VendorID: 0x1209, ProductID: 0x53c1},
		{VendorID: 0x1209}, // overlaps the first spec
	}
	infos, err := bus.Enumerate(specs)
	require.NoError(t, err)
	require.Len(t, infos, 1)
}

func TestBusEnumerateFilters(t *testing.T) {
	a := &fakeBackend{infos: []Info{
		{Path: "x", VendorID: 0x1209, ProductID: 0x53c1},
		{Path: "y", VendorID: 0xdead, ProductID: 0xbeef},
	}}

	bus := NewBus(testLogger(), a)
	infos, err := bus.Enumerate([]DeviceSpec{{VendorID: 0x1209, ProductID: 0x53c1}})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "x", infos[0].Path)
}

func TestBusEnumerateError(t *testing.T) {
	bus := NewBus(testLogger(), &fakeBackend{enumerrored: true})
	_, err := bus.Enumerate([]DeviceSpec{{}})
	require.Error(t, err)
}

func TestBusConnectUnknownPath(t *testing.T) {
	bus := NewBus(testLogger(), &fakeBackend{handles: map[string]*fakeHandle{}})
	_, err := bus.Connect("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBusConnectRetries(t *testing.T) {
	h := &fakeHandle{}
	backend := &fakeBackend{
		handles:  map[string]*fakeHandle{"dev": h},
		failures: 2,
	}

	bus := NewBus(testLogger(), backend)
	d, err := bus.Connect("dev")
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestBusConnectGivesUp(t *testing.T) {
	backend := &fakeBackend{
		handles:  map[string]*fakeHandle{"dev": {}},
		failures: connectTries,
	}

	bus := NewBus(testLogger(), backend)
	_, err := bus.Connect("dev")
	require.Error(t, err)
}

func report(payload []byte) []byte {
	r := make([]byte, ReportSize)
	r[0] = byte(len(payload))
	copy(r[1:], payload)
	return r
}

func connected(t *testing.T, h *fakeHandle) *Device {
	t.Helper()
	backend := &fakeBackend{handles: map[string]*fakeHandle{"dev": h}}
	bus := NewBus(testLogger(), backend)
	d, err := bus.Connect("dev")
	require.NoError(t, err)
	return d
}

func TestDeviceReadStripsLengthPrefix(t *testing.T) {
	h := &fakeHandle{reads: [][]byte{report([]byte("hello"))}}
	d := connected(t, h)

	buf := make([]byte, 16)
	n, err := d.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestDeviceReadSkipsEmptyReports(t *testing.T) {
	h := &fakeHandle{reads: [][]byte{{}, {}, report([]byte("late"))}}
	d := connected(t, h)

	buf := make([]byte, 16)
	n, err := d.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "late", string(buf[:n]))
}

func TestDeviceReadBuffersAcrossCalls(t *testing.T) {
	h := &fakeHandle{reads: [][]byte{report([]byte("abcdef"))}}
	d := connected(t, h)

	buf := make([]byte, 4)
	n, err := d.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf[:n]))

	n, err = d.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ef", string(buf[:n]))
}

func TestDeviceReadMalformedReport(t *testing.T) {
	bad := make([]byte, ReportSize)
	bad[0] = PayloadSize + 1
	h := &fakeHandle{reads: [][]byte{bad}}
	d := connected(t, h)

	_, err := d.Read(make([]byte, 16))
	require.Error(t, err)
}

func TestDeviceWriteChunksIntoReports(t *testing.T) {
	h := &fakeHandle{}
	d := connected(t, h)

	payload := make([]byte, PayloadSize+5)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := d.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	require.Len(t, h.writes, 2)
	for _, w := range h.writes {
		require.Len(t, w, ReportSize)
		require.Equal(t, byte(PayloadSize), w[0])
	}
	require.Equal(t, payload[:PayloadSize], h.writes[0][1:])
	require.Equal(t, payload[PayloadSize:], h.writes[1][1:6])
}

func TestDeviceClose(t *testing.T) {
	h := &fakeHandle{}
	d := connected(t, h)

	require.NoError(t, d.Close())
	require.True(t, h.closed)
	require.NoError(t, d.Close())

	_, err := d.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrClosedDevice)
	_, err = d.Write([]byte("x"))
	require.ErrorIs(t, err, ErrClosedDevice)
}

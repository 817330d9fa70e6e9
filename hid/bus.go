package hid

import (
	"fmt"
	"sync"
	"time"

	"github.com/trezor/bridged/memorywriter"
)

const (
	connectTries      = 3
	connectRetryDelay = 100 * time.Millisecond
)

// Bus multiplexes backends behind one lock. Enumeration takes the
// write lock, open/close/read/write take read locks, so transfers
// never overlap a HID enumeration (which crashes some OS stacks).
type Bus struct {
	rw       sync.RWMutex
	backends []Backend
	logger   *memorywriter.MemoryWriter
}

func NewBus(logger *memorywriter.MemoryWriter, backends ...Backend) *Bus {
	return &Bus{
		backends: backends,
		logger:   logger,
	}
}

// Enumerate lists devices matching any of the given specs, merged
// across backends, deduplicated and sorted by path.
func (b *Bus) Enumerate(specs []DeviceSpec) ([]Info, error) {
	b.rw.Lock()
	defer b.rw.Unlock()

	seen := make(map[string]bool)
	var infos []Info

	for _, backend := range b.backends {
		for _, spec := range specs {
			l, err := backend.Enumerate(spec.VendorID, spec.ProductID)
			if err != nil {
				return nil, fmt.Errorf("enumerate: %w", err)
			}
			for _, info := range l {
				if seen[info.Path] {
					continue
				}
				seen[info.Path] = true
				infos = append(infos, info)
			}
		}
	}

	Infos(infos).Sort()
	return infos, nil
}

func (b *Bus) Has(path string) bool {
	for _, backend := range b.backends {
		if backend.Has(path) {
			return true
		}
	}
	return false
}

// Connect opens the device at path. The open is retried a few times;
// right after enumeration the OS can still hold the device node.
func (b *Bus) Connect(path string) (*Device, error) {
	b.rw.RLock()
	defer b.rw.RUnlock()

	for _, backend := range b.backends {
		if !backend.Has(path) {
			continue
		}
		handle, err := b.tryConnect(backend, path)
		if err != nil {
			return nil, err
		}
		return &Device{
			bus:    b,
			handle: handle,
		}, nil
	}
	return nil, ErrNotFound
}

func (b *Bus) tryConnect(backend Backend, path string) (Handle, error) {
	tries := 0
	for {
		b.logger.Println(fmt.Sprintf("connect try %d", tries))
		handle, err := backend.Connect(path)
		if err == nil {
			return handle, nil
		}
		tries++
		if tries >= connectTries {
			return nil, err
		}
		time.Sleep(connectRetryDelay)
	}
}

// Device reads and writes the byte stream carried by 64-byte reports.
// A read report starts with the payload length, a written report
// starts with 63 and is zero padded.
type Device struct {
	bus    *Bus
	handle Handle

	mutex  sync.Mutex
	buffer []byte
	closed bool
}

func (d *Device) Read(p []byte) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return 0, ErrClosedDevice
	}
	if len(p) == 0 {
		return 0, nil
	}

	if len(d.buffer) == 0 {
		if err := d.readReport(); err != nil {
			return 0, err
		}
	}

	n := copy(p, d.buffer)
	d.buffer = d.buffer[n:]
	return n, nil
}

func (d *Device) readReport() error {
	d.bus.rw.RLock()
	defer d.bus.rw.RUnlock()

	var report [ReportSize]byte
	for {
		n, err := d.handle.Read(report[:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		length := int(report[0])
		if length > PayloadSize || n < 1+length {
			return fmt.Errorf("malformed report (marker %d, size %d)", length, n)
		}
		d.buffer = append(d.buffer, report[1:1+length]...)
		return nil
	}
}

func (d *Device) Write(p []byte) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return 0, ErrClosedDevice
	}

	d.bus.rw.RLock()
	defer d.bus.rw.RUnlock()

	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > PayloadSize {
			chunk = chunk[:PayloadSize]
		}

		var report [ReportSize]byte
		report[0] = PayloadSize
		copy(report[1:], chunk)

		if _, err := d.handle.Write(report[:]); err != nil {
			return total, err
		}

		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.buffer = nil

	d.bus.rw.RLock()
	defer d.bus.rw.RUnlock()
	return d.handle.Close()
}

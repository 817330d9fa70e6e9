package core

import (
	"github.com/trezor/bridged/hid"
	"github.com/trezor/bridged/memorywriter"
	"github.com/trezor/bridged/wire"
)

// DeviceKernel tracks the open handle of one device. All of its
// methods run on the device's executor, never concurrently.
type DeviceKernel struct {
	path   string
	bus    *hid.Bus
	logger *memorywriter.MemoryWriter

	device *hid.Device // nil when closed
}

func (d *DeviceKernel) Path() string {
	return d.path
}

// Open connects the device. Opening an already open device does
// nothing.
func (d *DeviceKernel) Open() error {
	if d.device != nil {
		return nil
	}
	device, err := d.bus.Connect(d.path)
	if err != nil {
		return err
	}
	d.device = device
	d.logger.Println("device - opened " + d.path)
	return nil
}

// Close drops the handle. Closing a closed device does nothing.
func (d *DeviceKernel) Close() error {
	if d.device == nil {
		return nil
	}
	err := d.device.Close()
	d.device = nil
	d.logger.Println("device - closed " + d.path)
	return err
}

// Call writes one framed message and reads one framed reply. A
// transport failure closes the handle; the next call reopens it.
func (d *DeviceKernel) Call(in *wire.Message) (*wire.Message, error) {
	if err := d.Open(); err != nil {
		return nil, err
	}

	if _, err := in.WriteTo(d.device); err != nil {
		d.dropHandle()
		return nil, err
	}

	var out wire.Message
	if _, err := out.ReadFrom(d.device); err != nil {
		d.dropHandle()
		return nil, err
	}
	return &out, nil
}

func (d *DeviceKernel) dropHandle() {
	if d.device == nil {
		return
	}
	_ = d.device.Close()
	d.device = nil
	d.logger.Println("device - dropped " + d.path + " after transport error")
}

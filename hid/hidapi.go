package hid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lowlevel "github.com/karalabe/hid"

	"github.com/trezor/bridged/memorywriter"
)

const hidapiPrefix = "hid"

// Some tokens expose extra HID interfaces (U2F, vendor debug) next to
// the one carrying the framed stream. Those are skipped by interface
// number and by usage page.
var defaultExcludedUsagePages = []uint16{0xFF01, 0xF1D0}

type HIDAPI struct {
	logger             *memorywriter.MemoryWriter
	excludedUsagePages []uint16
}

func InitHIDAPI(logger *memorywriter.MemoryWriter) (*HIDAPI, error) {
	return &HIDAPI{
		logger:             logger,
		excludedUsagePages: defaultExcludedUsagePages,
	}, nil
}

func (b *HIDAPI) Enumerate(vendorID, productID uint16) ([]Info, error) {
	var infos []Info

	for _, dev := range lowlevel.Enumerate(vendorID, productID) {
		if !b.usable(&dev) {
			continue
		}
		infos = append(infos, Info{
			Path:         b.identify(&dev),
			VendorID:     int(dev.VendorID),
			ProductID:    int(dev.ProductID),
			SerialNumber: dev.Serial,
		})
	}
	return infos, nil
}

func (b *HIDAPI) Has(path string) bool {
	return strings.HasPrefix(path, hidapiPrefix)
}

func (b *HIDAPI) Connect(path string) (Handle, error) {
	for _, dev := range lowlevel.Enumerate(0, 0) {
		if !b.usable(&dev) || b.identify(&dev) != path {
			continue
		}
		d, err := dev.Open()
		if err != nil {
			return nil, err
		}
		b.logger.Println("hidapi - connected " + path)
		return &hidHandle{dev: d}, nil
	}
	return nil, ErrNotFound
}

func (b *HIDAPI) usable(dev *lowlevel.DeviceInfo) bool {
	if dev.Interface > 0 {
		return false
	}
	for _, page := range b.excludedUsagePages {
		if dev.UsagePage == page {
			return false
		}
	}
	return true
}

// identify hashes the platform path. The raw path leaks host details
// (device numbers, driver names) to every allowed page.
func (b *HIDAPI) identify(dev *lowlevel.DeviceInfo) string {
	digest := sha256.Sum256([]byte(dev.Path))
	return hidapiPrefix + hex.EncodeToString(digest[:])
}

type hidHandle struct {
	dev *lowlevel.Device
}

func (h *hidHandle) Read(buf []byte) (int, error) {
	return h.dev.Read(buf)
}

func (h *hidHandle) Write(buf []byte) (int, error) {
	return h.dev.Write(buf)
}

func (h *hidHandle) Close() error {
	return h.dev.Close()
}

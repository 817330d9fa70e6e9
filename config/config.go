// Package config parses and validates the signed runtime
// configuration. The blob is a raw 64-byte secp256k1 signature
// followed by a serialized Configuration record; only blobs signed by
// one of the pinned keys are accepted.
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/trezor/bridged/hid"
)

const signatureSize = 64

var (
	ErrMalformed    = errors.New("configuration string is malformed")
	ErrBadSignature = errors.New("configuration signature is not correct")
	ErrIncomplete   = errors.New("configuration is incomplete")
	ErrExpired      = errors.New("configuration is expired")
)

// Config is a verified, parsed configuration.
type Config struct {
	whitelist    []*regexp.Regexp
	blacklist    []*regexp.Regexp
	wireProtocol []byte
	validUntil   uint64 // unix seconds
	hasExpiry    bool
	devices      []hid.DeviceSpec
}

// ParseSigned verifies blob against the given keys and parses it.
func ParseSigned(blob []byte, keys []*secp256k1.PublicKey) (*Config, error) {
	if len(blob) <= signatureSize {
		return nil, ErrMalformed
	}

	sig := blob[:signatureSize]
	msg := blob[signatureSize:]

	if !verifySignature(sig, msg, keys) {
		return nil, ErrBadSignature
	}

	m := dynamicpb.NewMessage(configurationDescriptor)
	if err := proto.Unmarshal(msg, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}

	return build(m)
}

// verifySignature checks a raw r||s signature over SHA-256 of msg
// against every pinned key.
func verifySignature(sig, msg []byte, keys []*secp256k1.PublicKey) bool {
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return false
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return false
	}
	signature := ecdsa.NewSignature(&r, &s)

	digest := sha256.Sum256(msg)
	for _, key := range keys {
		if signature.Verify(digest[:], key) {
			return true
		}
	}
	return false
}

func build(m protoreflect.Message) (*Config, error) {
	fields := configurationDescriptor.Fields()

	c := &Config{}

	var err error
	c.whitelist, err = compileRules(m, fields.ByName("whitelist_urls"))
	if err != nil {
		return nil, err
	}
	c.blacklist, err = compileRules(m, fields.ByName("blacklist_urls"))
	if err != nil {
		return nil, err
	}

	c.wireProtocol = m.Get(fields.ByName("wire_protocol")).Bytes()

	if fd := fields.ByName("valid_until"); m.Has(fd) {
		c.validUntil = m.Get(fd).Uint()
		c.hasExpiry = true
	}

	devicesField := fields.ByName("known_devices")
	vendorField := devicesField.Message().Fields().ByName("vendor_id")
	productField := devicesField.Message().Fields().ByName("product_id")

	list := m.Get(devicesField).List()
	for i := 0; i < list.Len(); i++ {
		dev := list.Get(i).Message()
		c.devices = append(c.devices, hid.DeviceSpec{
			VendorID:  uint16(dev.Get(vendorField).Uint()),
			ProductID: uint16(dev.Get(productField).Uint()),
		})
	}

	return c, nil
}

// compileRules anchors every pattern so rules match whole URLs, never
// substrings.
func compileRules(m protoreflect.Message, fd protoreflect.FieldDescriptor) ([]*regexp.Regexp, error) {
	list := m.Get(fd).List()

	rules := make([]*regexp.Regexp, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		pattern := list.Get(i).String()
		rule, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrIncomplete, pattern, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Expired reports whether the configuration stopped being valid. A
// configuration without an expiry never expires.
func (c *Config) Expired(now time.Time) bool {
	return c.hasExpiry && c.validUntil <= uint64(now.Unix())
}

// AllowsURL checks an URL against the rules. Blacklist wins over
// whitelist.
func (c *Config) AllowsURL(url string) bool {
	for _, rule := range c.blacklist {
		if rule.MatchString(url) {
			return false
		}
	}
	for _, rule := range c.whitelist {
		if rule.MatchString(url) {
			return true
		}
	}
	return false
}

// WireProtocol returns the serialized FileDescriptorSet carried by
// the configuration.
func (c *Config) WireProtocol() []byte {
	return c.wireProtocol
}

// ValidUntil returns the expiry as unix seconds, if there is one.
func (c *Config) ValidUntil() (uint64, bool) {
	return c.validUntil, c.hasExpiry
}

// KnownDevices returns the USB identities the daemon may touch.
func (c *Config) KnownDevices() []hid.DeviceSpec {
	return c.devices
}

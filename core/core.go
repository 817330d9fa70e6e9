// Package core is the kernel of the daemon. It owns the installed
// configuration, the schema store, the session table and the executor
// pool, and hands out the per-device resources the HTTP layer runs
// its work on.
package core

import (
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/trezor/bridged/config"
	"github.com/trezor/bridged/executor"
	"github.com/trezor/bridged/hid"
	"github.com/trezor/bridged/memorywriter"
	"github.com/trezor/bridged/protob"
	"github.com/trezor/bridged/wire"
)

var (
	ErrNotConfigured   = errors.New("not configured")
	ErrSessionNotFound = errors.New("session not found")
)

// EnumerateEntry is one enumerated token as presented on the HTTP
// surface. Path is hex encoded so it is URL safe.
type EnumerateEntry struct {
	Path         string  `json:"path"`
	Vendor       int     `json:"vendor"`
	Product      int     `json:"product"`
	SerialNumber string  `json:"serialNumber"`
	Session      *string `json:"session"`
}

type EnumerateEntries []EnumerateEntry

func (entries EnumerateEntries) Sort() {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
}

type Kernel struct {
	version string
	bus     *hid.Bus
	logger  *memorywriter.MemoryWriter
	keys    []*secp256k1.PublicKey

	mutex       sync.Mutex
	cfg         *config.Config
	store       *protob.Store
	sessions    map[string]string // device path -> session id
	devices     map[string]*DeviceKernel
	executors   map[string]*executor.Executor
	enumeration *executor.Executor
}

func New(version string, bus *hid.Bus, logger *memorywriter.MemoryWriter, keys []*secp256k1.PublicKey) *Kernel {
	return &Kernel{
		version:     version,
		bus:         bus,
		logger:      logger,
		keys:        keys,
		sessions:    make(map[string]string),
		devices:     make(map[string]*DeviceKernel),
		executors:   make(map[string]*executor.Executor),
		enumeration: executor.New(),
	}
}

func (k *Kernel) Version() string {
	return k.version
}

// ParseConfig verifies and parses a signed configuration blob without
// installing it.
func (k *Kernel) ParseConfig(blob []byte) (*config.Config, error) {
	return config.ParseSigned(blob, k.keys)
}

// SetConfig installs a parsed configuration. The schema store is
// built first; a bad schema leaves the previous configuration in
// place.
func (k *Kernel) SetConfig(cfg *config.Config) error {
	store, err := protob.Build(cfg.WireProtocol())
	if err != nil {
		return err
	}

	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.cfg = cfg
	k.store = store
	k.logger.Println("core - configuration installed")
	return nil
}

func (k *Kernel) HasConfig() bool {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return k.cfg != nil
}

// ValidUntil returns the installed configuration's expiry, if any.
func (k *Kernel) ValidUntil() (uint64, bool) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.cfg == nil {
		return 0, false
	}
	return k.cfg.ValidUntil()
}

// IsAllowed decides whether an origin URL may talk to the daemon.
// Without a configuration everything is allowed, otherwise the
// configuration must be unexpired and its URL rules must match.
func (k *Kernel) IsAllowed(url string) bool {
	k.mutex.Lock()
	cfg := k.cfg
	k.mutex.Unlock()

	if cfg == nil {
		return true
	}
	return !cfg.Expired(time.Now()) && cfg.AllowsURL(url)
}

// EnumerationExecutor serializes enumeration and the acquire
// precondition.
func (k *Kernel) EnumerationExecutor() *executor.Executor {
	return k.enumeration
}

func (k *Kernel) snapshotConfig() (*config.Config, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.cfg == nil {
		return nil, ErrNotConfigured
	}
	return k.cfg, nil
}

func (k *Kernel) enumerateRaw() ([]hid.Info, error) {
	cfg, err := k.snapshotConfig()
	if err != nil {
		return nil, err
	}
	return k.bus.Enumerate(cfg.KnownDevices())
}

// Enumerate lists known devices joined with their sessions.
func (k *Kernel) Enumerate() ([]EnumerateEntry, error) {
	infos, err := k.enumerateRaw()
	if err != nil {
		return nil, err
	}

	k.mutex.Lock()
	defer k.mutex.Unlock()

	entries := make(EnumerateEntries, 0, len(infos))
	for _, info := range infos {
		entry := EnumerateEntry{
			Path:         hex.EncodeToString([]byte(info.Path)),
			Vendor:       info.VendorID,
			Product:      info.ProductID,
			SerialNumber: info.SerialNumber,
		}
		if id, ok := k.sessions[info.Path]; ok {
			session := id
			entry.Session = &session
		}
		entries = append(entries, entry)
	}
	entries.Sort()
	return entries, nil
}

// IsPathSupported reports whether the path shows up in the current
// enumeration.
func (k *Kernel) IsPathSupported(path string) (bool, error) {
	infos, err := k.enumerateRaw()
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Path == path {
			return true, nil
		}
	}
	return false, nil
}

// PathResources returns the device kernel and executor for a path,
// creating both on first use.
func (k *Kernel) PathResources(path string) (*DeviceKernel, *executor.Executor) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return k.pathResources(path)
}

// pathResources must run under the kernel mutex.
func (k *Kernel) pathResources(path string) (*DeviceKernel, *executor.Executor) {
	dk, ok := k.devices[path]
	if !ok {
		dk = &DeviceKernel{
			path:   path,
			bus:    k.bus,
			logger: k.logger,
		}
		k.devices[path] = dk
	}
	e, ok := k.executors[path]
	if !ok {
		e = executor.New()
		k.executors[path] = e
	}
	return dk, e
}

// SessionResources resolves a session to its device kernel and
// executor. The session table is read under the same lock that hands
// out the executor, so a racing release cannot leave the caller with
// a stale pairing.
func (k *Kernel) SessionResources(session string) (*DeviceKernel, *executor.Executor, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	path, ok := k.findSessionPath(session)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	dk, e := k.pathResources(path)
	return dk, e, nil
}

// AcquireSession binds a fresh session id to the path, replacing any
// prior one. The caller opens the device first, on the device
// executor.
func (k *Kernel) AcquireSession(path string) string {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	id := uuid.New().String()
	k.sessions[path] = id
	k.logger.Println("core - acquired session " + id)
	return id
}

// ReleaseSession removes a session binding. Releasing an unknown
// session is not an error.
func (k *Kernel) ReleaseSession(session string) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	path, ok := k.findSessionPath(session)
	if !ok {
		return
	}
	delete(k.sessions, path)
	k.logger.Println("core - released session " + session)
}

// findSessionPath must run under the kernel mutex.
func (k *Kernel) findSessionPath(session string) (string, bool) {
	for path, id := range k.sessions {
		if id == session {
			return path, true
		}
	}
	return "", false
}

// Schema returns the installed schema store.
func (k *Kernel) Schema() (*protob.Store, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.store == nil {
		return nil, ErrNotConfigured
	}
	return k.store, nil
}

// JSONToWire converts a typed JSON body to its framed form.
func (k *Kernel) JSONToWire(body []byte) (*wire.Message, error) {
	store, err := k.Schema()
	if err != nil {
		return nil, err
	}
	name, m, err := store.DecodeJSON(body)
	if err != nil {
		return nil, err
	}
	return store.EncodeWire(name, m)
}

// WireToJSON converts a framed message to its typed JSON body.
func (k *Kernel) WireToJSON(msg *wire.Message) ([]byte, error) {
	store, err := k.Schema()
	if err != nil {
		return nil, err
	}
	name, m, err := store.DecodeWire(msg)
	if err != nil {
		return nil, err
	}
	return store.EncodeJSON(name, m)
}

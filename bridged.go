package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/trezor/bridged/config"
	"github.com/trezor/bridged/core"
	"github.com/trezor/bridged/hid"
	"github.com/trezor/bridged/memorywriter"
	"github.com/trezor/bridged/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

const version = "1.2.1"

type udpPorts []int

func (p *udpPorts) String() string {
	res := ""
	for i, port := range *p {
		if i > 0 {
			res += ","
		}
		res += strconv.Itoa(port)
	}
	return res
}

func (p *udpPorts) Set(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*p = append(*p, port)
	return nil
}

func main() {
	var (
		logfile  string
		address  string
		port     int
		certfile string
		keyfile  string
		ports    udpPorts
		withusb  bool
	)

	flag.StringVar(&logfile, "l", "", "Log into a file, rotating after 5MB")
	flag.StringVar(&address, "a", "127.0.0.1", "Address to listen on")
	flag.IntVar(&port, "p", 21325, "Port to listen on")
	flag.StringVar(&certfile, "c", "", "Path to the TLS certificate PEM file")
	flag.StringVar(&keyfile, "k", "", "Path to the TLS private key PEM file")
	flag.Var(&ports, "e", "Use UDP port for emulator. Can be repeated for more ports. Example: bridged -e 21324 -e 21326")
	flag.BoolVar(&withusb, "u", true, "Use USB devices. Can be disabled for testing environments. Example: bridged -e 21324 -u=false")
	flag.Parse()

	var stderrWriter io.Writer
	if logfile != "" {
		stderrWriter = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    5, // megabytes
			MaxBackups: 3,
		}
	} else {
		stderrWriter = os.Stderr
	}

	stderrLogger := log.New(stderrWriter, "", log.LstdFlags)

	longMemoryWriter := memorywriter.New(90000, 200, true)

	stderrLogger.Print("bridged is starting.")

	var backends []hid.Backend
	if withusb {
		longMemoryWriter.Println("initing hidapi")
		h, err := hid.InitHIDAPI(longMemoryWriter)
		if err != nil {
			stderrLogger.Fatalf("hidapi: %s", err)
		}
		backends = append(backends, h)
	}

	longMemoryWriter.Println(fmt.Sprintf("UDP port count - %d", len(ports)))

	if len(ports) > 0 {
		e, err := hid.InitUDP(ports, longMemoryWriter)
		if err != nil {
			stderrLogger.Fatalf("udp: %s", err)
		}
		backends = append(backends, e)
	}

	if len(backends) == 0 {
		stderrLogger.Fatalf("No transports enabled")
	}

	bus := hid.NewBus(longMemoryWriter, backends...)
	kernel := core.New(version, bus, longMemoryWriter, config.SignatureKeys())

	var certPEM, keyPEM []byte
	if certfile != "" || keyfile != "" {
		var err error
		certPEM, err = os.ReadFile(certfile)
		if err != nil {
			stderrLogger.Fatalf("cert: %s", err)
		}
		keyPEM, err = os.ReadFile(keyfile)
		if err != nil {
			stderrLogger.Fatalf("key: %s", err)
		}
	}

	longMemoryWriter.Println("creating HTTP server")
	s, err := server.New(server.Options{
		Kernel:    kernel,
		Address:   address,
		Port:      port,
		CertPEM:   certPEM,
		KeyPEM:    keyPEM,
		Accesslog: stderrWriter,
		Logger:    longMemoryWriter,
		Version:   version,
	})
	if err != nil {
		stderrLogger.Fatalf("server: %s", err)
	}

	longMemoryWriter.Println("running HTTP server")
	err = s.Run()
	if err != nil {
		stderrLogger.Fatalf("server: %s", err)
	}

	longMemoryWriter.Println("main ended successfully")
}

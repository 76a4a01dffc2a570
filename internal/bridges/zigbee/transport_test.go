package zigbee

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
}

func TestFindDevicePath(t *testing.T) {
	t.Run("no match", func(t *testing.T) {
		dir := t.TempDir()
		_, err := FindDevicePath([]string{filepath.Join(dir, "ttyACM*")})
		if !errors.Is(err, ErrDevicePathNotFound) {
			t.Errorf("error = %v, want ErrDevicePathNotFound", err)
		}
	})

	t.Run("single match", func(t *testing.T) {
		dir := t.TempDir()
		dev := filepath.Join(dir, "ttyACM0")
		touch(t, dev)

		got, err := FindDevicePath([]string{filepath.Join(dir, "ttyACM*"), filepath.Join(dir, "ttyUSB*")})
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if got != dev {
			t.Errorf("FindDevicePath() = %q, want %q", got, dev)
		}
	})

	t.Run("overlapping patterns count once", func(t *testing.T) {
		dir := t.TempDir()
		dev := filepath.Join(dir, "ttyUSB0")
		touch(t, dev)

		got, err := FindDevicePath([]string{filepath.Join(dir, "ttyUSB*"), filepath.Join(dir, "tty*")})
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if got != dev {
			t.Errorf("FindDevicePath() = %q, want %q", got, dev)
		}
	})

	t.Run("two dongles are ambiguous", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "ttyACM0"))
		touch(t, filepath.Join(dir, "ttyUSB0"))

		_, err := FindDevicePath([]string{filepath.Join(dir, "ttyACM*"), filepath.Join(dir, "ttyUSB*")})
		if !errors.Is(err, ErrDevicePathAmbiguous) {
			t.Errorf("error = %v, want ErrDevicePathAmbiguous", err)
		}
	})

	t.Run("bad pattern", func(t *testing.T) {
		if _, err := FindDevicePath([]string{"[unterminated"}); err == nil {
			t.Error("expected error for malformed pattern")
		}
	})
}

func TestOpenTransport_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	port, err := openTransport(ctx, "tcp://"+ln.Addr().String())
	if err != nil {
		t.Fatalf("openTransport() error = %v", err)
	}
	defer port.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted")
	}
}

func TestOpenTransport_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		device string
	}{
		{"unsupported scheme", "udp://127.0.0.1:1234"},
		{"missing serial device", filepath.Join(t.TempDir(), "ttyACM9")},
		{"missing serial URL", "serial://" + filepath.Join(t.TempDir(), "ttyACM9")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := openTransport(ctx, tt.device); err == nil {
				t.Errorf("openTransport(%q) expected error", tt.device)
			}
		})
	}
}

func TestOpenSerial_RegularFile(t *testing.T) {
	// A plain file is not a terminal; it opens without raw mode.
	path := filepath.Join(t.TempDir(), "ttyFAKE")
	touch(t, path)

	port, err := openSerial(path)
	if err != nil {
		t.Fatalf("openSerial() error = %v", err)
	}
	if sp, ok := port.(*serialPort); !ok || sp.state != nil {
		t.Errorf("expected serialPort without saved terminal state")
	}
	if err := port.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestConnectZNP_TransportError(t *testing.T) {
	_, err := ConnectZNP(context.Background(), ZNPConfig{Device: filepath.Join(t.TempDir(), "missing")})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("ConnectZNP() error = %v, want ErrTransport", err)
	}
}

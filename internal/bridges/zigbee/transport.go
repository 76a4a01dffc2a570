package zigbee

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/term"
)

// DefaultDevicePatterns are the serial device paths a CC253x/CC26x2
// network processor usually enumerates as.
var DefaultDevicePatterns = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
	"/dev/cu.usbmodem*",
}

// FindDevicePath locates the coordinator's serial device.
//
// Every pattern is globbed and the matches are merged. Exactly one match is
// required: zero or several matches are a configuration error and the
// bridge must not start.
//
// Parameters:
//   - patterns: Glob patterns to try (DefaultDevicePatterns if empty)
//
// Returns:
//   - string: The single matching path
//   - error: ErrDevicePathNotFound or ErrDevicePathAmbiguous
func FindDevicePath(patterns []string) (string, error) {
	if len(patterns) == 0 {
		patterns = DefaultDevicePatterns
	}

	seen := make(map[string]bool)
	var matches []string
	for _, p := range patterns {
		found, err := filepath.Glob(p)
		if err != nil {
			return "", fmt.Errorf("glob %q: %w", p, err)
		}
		for _, m := range found {
			if !seen[m] {
				seen[m] = true
				matches = append(matches, m)
			}
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: patterns %v", ErrDevicePathNotFound, patterns)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: found %d devices %v", ErrDevicePathAmbiguous, len(matches), matches)
	}
}

// openTransport opens the byte stream to the network processor.
//
// Supported forms:
//   - "tcp://host:port" → network-attached coordinator (ser2net and similar)
//   - "/dev/ttyACM0" or "serial:///dev/ttyACM0" → local serial device
func openTransport(ctx context.Context, device string) (io.ReadWriteCloser, error) {
	if strings.Contains(device, "://") {
		u, err := url.Parse(device)
		if err != nil {
			return nil, fmt.Errorf("invalid device URL: %w", err)
		}
		switch u.Scheme {
		case "tcp":
			var dialer net.Dialer
			conn, err := dialer.DialContext(ctx, "tcp", u.Host)
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", u.Host, err)
			}
			return conn, nil
		case "serial":
			return openSerial(u.Path)
		default:
			return nil, fmt.Errorf("unsupported scheme %q (use tcp or serial)", u.Scheme)
		}
	}
	return openSerial(device)
}

// serialPort restores the terminal mode on close.
type serialPort struct {
	*os.File
	state *term.State
}

func (p *serialPort) Close() error {
	if p.state != nil {
		//nolint:errcheck // Best-effort restore; the descriptor is closed next anyway
		term.Restore(int(p.Fd()), p.state)
	}
	return p.File.Close()
}

// openSerial opens a tty and switches it to raw mode so the MT byte stream
// passes through unmodified. USB CDC dongles ignore the line speed; UART
// attached processors must be configured to 115200 8N1 outside the bridge.
func openSerial(path string) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	port := &serialPort{File: f}
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("raw mode %s: %w", path, err)
		}
		port.state = state
	}
	return port, nil
}

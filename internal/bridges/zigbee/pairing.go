package zigbee

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pairing window limits, in seconds.
const (
	DefaultPairingTime = 60
	MinPairingTime     = 1

	// MaxPairingTime is the longest finite window; 255 means "forever" to
	// the network processor and is not offered.
	MaxPairingTime = 254
)

// PairingAnnouncer is told when a pairing window closes.
type PairingAnnouncer interface {
	PairingClosed()
}

// PairingWindow opens time-boxed join-permission windows.
//
// Only one window exists: opening while one is pending replaces the
// scheduled close, so exactly one close announcement follows the last Open.
//
// Thread Safety: all methods are safe for concurrent use.
type PairingWindow struct {
	conn      Connector
	announcer PairingAnnouncer
	logger    Logger

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	closesAt time.Time
	now      func() time.Time
	after    func(d time.Duration, f func()) *time.Timer
	unit     time.Duration
}

// NewPairingWindow creates a pairing window controller.
func NewPairingWindow(conn Connector, announcer PairingAnnouncer, logger Logger) *PairingWindow {
	return &PairingWindow{
		conn:      conn,
		announcer: announcer,
		logger:    logger,
		now:       time.Now,
		after:     time.AfterFunc,
		unit:      time.Second,
	}
}

// Open permits joining for the given number of seconds and returns a
// confirmation immediately. Zero means DefaultPairingTime.
//
// Parameters:
//   - ctx: Context for the permit-join request
//   - seconds: Window length, 1..254 (0 selects the default)
//
// Returns:
//   - string: Human-readable confirmation
//   - error: ErrInvalidPairingTime, or the permit-join failure
func (p *PairingWindow) Open(ctx context.Context, seconds int) (string, error) {
	if seconds == 0 {
		seconds = DefaultPairingTime
	}
	if seconds < MinPairingTime || seconds > MaxPairingTime {
		return "", fmt.Errorf("%w: %d (allowed %d..%d)", ErrInvalidPairingTime, seconds, MinPairingTime, MaxPairingTime)
	}

	if err := p.conn.PermitJoin(ctx, uint8(seconds)); err != nil {
		return "", fmt.Errorf("permit join: %w", err)
	}

	duration := time.Duration(seconds) * p.unit

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.closesAt = p.now().Add(duration)
	p.timer = p.after(duration, func() { p.expire(gen) })
	p.mu.Unlock()

	p.logInfo("pairing window opened", "seconds", seconds)
	return fmt.Sprintf("Pairing mode enabled for %d seconds", seconds), nil
}

// expire announces the close of window gen unless a later Open replaced it.
func (p *PairingWindow) expire(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.timer == nil {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.closesAt = time.Time{}
	p.mu.Unlock()

	p.logInfo("pairing window closed")
	if p.announcer != nil {
		p.announcer.PairingClosed()
	}
}

// IsOpen reports whether a window is pending and when it closes.
func (p *PairingWindow) IsOpen() (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil, p.closesAt
}

// Close cancels a pending close announcement without announcing.
// The network processor closes the join window on its own.
func (p *PairingWindow) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	p.closesAt = time.Time{}
}

func (p *PairingWindow) logInfo(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Info(msg, keysAndValues...)
	}
}

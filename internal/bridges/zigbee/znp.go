package zigbee

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	unp "github.com/dyrkin/unp-go"
	znp "github.com/dyrkin/znp-go"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and sizes for network processor communication.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 6 * time.Second
	defaultStartupTimeout = 20 * time.Second

	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	// callbackQueueSize is the buffer size for the indication callback queue.
	callbackQueueSize = 100

	// callbackWorkerCount is the number of concurrent callback workers.
	callbackWorkerCount = 4

	// unpLengthSize is the width of the MT length field.
	unpLengthSize = 1

	// afDefaultRadius is the maximum hop count for AF data requests.
	afDefaultRadius uint8 = 0x1E

	// deviceStateCoordinator is the ZDO state once the coordinator has
	// formed or resumed its network.
	deviceStateCoordinator uint8 = 0x09

	// startupDelay is passed to ZDO_STARTUP_FROM_APP (milliseconds).
	startupDelay uint16 = 100

	// localDeviceID is the HA device id advertised on the local endpoint
	// (Configuration Tool).
	localDeviceID uint16 = 0x0005

	// afStatusDuplicateEntry is returned by AF_REGISTER for an endpoint
	// already registered before a host restart.
	afStatusDuplicateEntry uint8 = 0xB8

	// broadcastAddrMode selects broadcast addressing for permit-join.
	broadcastAddrMode uint8 = 0x0F
)

// ZNPConfig holds network processor connection configuration.
type ZNPConfig struct {
	// Device is the coordinator location: a serial device path,
	// "serial:///dev/ttyACM0", or "tcp://host:port".
	Device string

	// ConnectTimeout bounds opening the transport. Default: 10 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request/response exchange. Default: 6 seconds.
	RequestTimeout time.Duration

	// Endpoint is the local application endpoint. Default: 1.
	Endpoint uint8

	// ProfileID is the local endpoint's application profile.
	// Default: Home Automation (0x0104).
	ProfileID uint16

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// ZNPStats holds operational statistics.
type ZNPStats struct {
	FramesTx        uint64 // Requests issued
	FramesRx        uint64 // Asynchronous messages received
	FramesDropped   uint64 // Indications dropped due to a full callback queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NodeAnnouncement reports a node joining or rejoining the network.
type NodeAnnouncement struct {
	NetworkAddress NetworkAddress
	IEEEAddress    IEEEAddress
}

// EndpointNotification reports one endpoint found by an endpoint enumeration.
type EndpointNotification struct {
	NetworkAddress NetworkAddress
	Endpoint       uint8
}

// ClusterCommand is an unsolicited cluster-specific ZCL command sent by a device.
type ClusterCommand struct {
	Source      NetworkAddress
	Endpoint    uint8
	Cluster     uint16
	Command     uint8
	Sequence    uint8
	Payload     []byte
	LinkQuality uint8
}

// SimpleDescriptor describes one endpoint of a node.
type SimpleDescriptor struct {
	Endpoint       uint8
	ProfileID      uint16
	DeviceID       uint16
	DeviceVersion  uint8
	InputClusters  []uint16
	OutputClusters []uint16
}

// Handlers receives asynchronous notifications from the coordinator.
// Nil fields are ignored.
type Handlers struct {
	OnNodeSeen       func(NodeAnnouncement)
	OnEndpoint       func(EndpointNotification)
	OnClusterCommand func(ClusterCommand)
}

// Connector is the coordinator client contract.
// This allows mocking the network processor in tests.
type Connector interface {
	FirmwareVersion(ctx context.Context) (string, error)
	StartCoordinator(ctx context.Context) error
	LocalAddress() IEEEAddress
	PermitJoin(ctx context.Context, seconds uint8) error
	MatchEndpoints(ctx context.Context, nwk NetworkAddress, profile uint16) error
	ActiveEndpoints(ctx context.Context, nwk NetworkAddress) error
	SimpleDescriptor(ctx context.Context, nwk NetworkAddress, endpoint uint8) (SimpleDescriptor, error)
	ReadAttributes(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster uint16, ids []uint16) ([]AttributeRecord, error)
	WriteAttribute(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster, id uint16, typ byte, value []byte) error
	InvokeCommand(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster uint16, command uint8, payload []byte) error
	SetHandlers(h Handlers)
	IsConnected() bool
	Stats() ZNPStats
	Close() error
}

// Ensure ZNPClient implements Connector.
var _ Connector = (*ZNPClient)(nil)

// processor is the subset of the znp-go API the client drives.
type processor interface {
	Start()
	Stop()
	AsyncInbound() chan interface{}
	Errors() chan error

	SysVersion() (*znp.SysVersionResponse, error)
	UtilGetDeviceInfo() (*znp.UtilGetDeviceInfoResponse, error)
	AfRegister(endPoint uint8, appProfID uint16, appDeviceID uint16, addDevVer uint8,
		latencyReq znp.Latency, appInClusterList []uint16, appOutClusterList []uint16) (*znp.StatusResponse, error)
	ZdoStartupFromApp(startDelay uint16) (*znp.ZdoStartupFromAppResponse, error)
	ZdoMgmtPermitJoinReq(addrMode znp.AddrMode, dstAddr string, duration uint8, tcSignificance uint8) (*znp.StatusResponse, error)
	ZdoActiveEpReq(dstAddr string, nwkAddrOfInterest string) (*znp.StatusResponse, error)
	ZdoMatchDescReq(dstAddr string, nwkAddrOfInterest string, profileID uint16,
		inClusterList []uint16, outClusterList []uint16) (*znp.StatusResponse, error)
	ZdoSimpleDescReq(dstAddr string, nwkAddrOfInterest string, endpoint uint8) (*znp.StatusResponse, error)
	AfDataRequest(dstAddr string, dstEndpoint uint8, srcEndpoint uint8, clusterID uint16, transID uint8,
		options *znp.AfDataRequestOptions, radius uint8, data []uint8) (*znp.StatusResponse, error)
}

var _ processor = (*znp.Znp)(nil)

// session is one open link to the network processor.
type session struct {
	np   processor
	port io.Closer
	lost <-chan struct{}
}

func (s *session) close() {
	s.np.Stop()
	if s.port != nil {
		s.port.Close()
	}
}

// dialer opens a new session. done is closed when the client shuts down.
type dialer func(ctx context.Context, done <-chan struct{}) (*session, error)

// linkPort watches the byte stream under znp-go for the error that ends
// a session.
//
// After the first failure Read parks until the client closes, so the
// abandoned session's reader does not spin on a dead port.
type linkPort struct {
	rw   io.ReadWriteCloser
	done <-chan struct{}
	lost *closeOnce
}

func (p *linkPort) Read(b []byte) (int, error) {
	select {
	case <-p.lost.Done():
		<-p.done
		return 0, io.EOF
	default:
	}
	n, err := p.rw.Read(b)
	if err != nil {
		p.lost.Close()
	}
	return n, err
}

func (p *linkPort) Write(b []byte) (int, error) {
	n, err := p.rw.Write(b)
	if err != nil {
		p.lost.Close()
	}
	return n, err
}

func (p *linkPort) Close() error {
	p.lost.Close()
	return p.rw.Close()
}

// dialDevice returns a dialer that opens device and runs znp-go over it.
func dialDevice(device string) dialer {
	return func(ctx context.Context, done <-chan struct{}) (*session, error) {
		port, err := openTransport(ctx, device)
		if err != nil {
			return nil, err
		}
		link := &linkPort{rw: port, done: done, lost: newCloseOnce()}
		np := znp.New(unp.New(unpLengthSize, link))
		np.Start()
		return &session{np: np, port: link, lost: link.lost.Done()}, nil
	}
}

// waiter is a pending match for an asynchronous response.
type waiter struct {
	match func(any) bool
	ch    chan any
}

// ZNPClient talks to a Texas Instruments Z-Stack network processor through
// znp-go, which owns MT framing and request encoding.
//
// The client adds what the bridge needs on top: request timeouts bound to
// a context, correlation of asynchronous responses, indication dispatch,
// statistics and reconnection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Indications are delivered on a bounded callback worker pool.
//
// Auto-Reconnection:
//   - When the transport fails, the client reopens it with exponential
//     backoff (ReconnectInterval up to 2 minutes) until Close() is called.
type ZNPClient struct {
	cfg  ZNPConfig
	dial dialer

	startupTimeout time.Duration

	sess      *session
	connMu    sync.RWMutex
	connected bool

	reconnecting atomic.Bool

	localAddr atomic.Uint64

	waiters    map[uint64]*waiter
	nextWaiter uint64
	waitersMu  sync.Mutex

	seq atomic.Uint32

	handlers   Handlers
	handlersMu sync.RWMutex

	callbackQueue chan func()

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// ConnectZNP opens the transport to the network processor and starts
// receiving.
//
// It does not talk to the processor yet: call FirmwareVersion to verify the
// link and StartCoordinator to bring the network up.
//
// Parameters:
//   - ctx: Context for cancellation (used for opening the transport)
//   - cfg: Connection configuration
//
// Returns:
//   - *ZNPClient: Connected client ready for use
//   - error: ErrTransport wrapping the cause if the transport cannot be opened
func ConnectZNP(ctx context.Context, cfg ZNPConfig) (*ZNPClient, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	done := newCloseOnce()
	dial := dialDevice(cfg.Device)
	sess, err := dial(connectCtx, done.Done())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return newZNPClient(cfg, sess, dial, done), nil
}

// newZNPClient wires a client around an open session.
// A nil dial disables reconnection.
func newZNPClient(cfg ZNPConfig, sess *session, dial dialer, done *closeOnce) *ZNPClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Endpoint == 0 {
		cfg.Endpoint = 1
	}
	if cfg.ProfileID == 0 {
		cfg.ProfileID = ProfileHomeAutomation
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if done == nil {
		done = newCloseOnce()
	}

	c := &ZNPClient{
		cfg:            cfg,
		dial:           dial,
		startupTimeout: defaultStartupTimeout,
		sess:           sess,
		connected:      true,
		waiters:        make(map[uint64]*waiter),
		callbackQueue:  make(chan func(), callbackQueueSize),
		done:           done,
	}
	c.lastActivity.Store(time.Now().Unix())

	for range callbackWorkerCount {
		c.wg.Add(1)
		go c.callbackWorker()
	}

	c.wg.Add(1)
	go c.eventLoop(sess)

	return c
}

// eventLoop drains the session's asynchronous messages and errors.
// On transport loss it reconnects with exponential backoff.
func (c *ZNPClient) eventLoop(s *session) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return

		case msg := <-s.np.AsyncInbound():
			c.framesRx.Add(1)
			c.lastActivity.Store(time.Now().Unix())
			c.handleMessage(msg)

		case err := <-s.np.Errors():
			c.errorsTotal.Add(1)
			c.logDebug("network processor error", "error", err)

		case <-s.lost:
			if c.isClosed() {
				return
			}
			c.logError("transport lost", nil)
			c.errorsTotal.Add(1)
			c.handleDisconnect()

			next, ok := c.reconnect()
			if !ok {
				return
			}
			s = next
		}
	}
}

// handleMessage routes an asynchronous message to a waiter or the
// indication handlers.
func (c *ZNPClient) handleMessage(msg any) {
	if c.deliverToWaiters(msg) {
		return
	}

	switch m := msg.(type) {
	case *znp.ZdoEndDeviceAnnceInd:
		c.handleDeviceAnnounce(m)
	case *znp.ZdoActiveEpRsp:
		c.handleEndpointList(uint8(m.Status), m.NwkAddr, m.ActiveEPList)
	case *znp.ZdoMatchDescRsp:
		c.handleEndpointList(uint8(m.Status), m.NwkAddr, m.MatchList)
	case *znp.AfIncomingMessage:
		c.handleIncomingMessage(m)
	case *znp.ZdoStateChangeInd:
		c.logDebug("device state changed", "state", uint8(m.State))
	default:
		c.logDebug("unhandled message", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *ZNPClient) handleDeviceAnnounce(m *znp.ZdoEndDeviceAnnceInd) {
	nwk, err := ParseNetworkAddress(m.NwkAddr)
	if err != nil {
		c.errorsTotal.Add(1)
		return
	}
	ieee, err := ParseIEEEAddress(m.IEEEAddr)
	if err != nil {
		c.errorsTotal.Add(1)
		return
	}
	ann := NodeAnnouncement{NetworkAddress: nwk, IEEEAddress: ieee}
	c.dispatch(func(h Handlers) {
		if h.OnNodeSeen != nil {
			h.OnNodeSeen(ann)
		}
	})
}

// handleEndpointList reports each endpoint of an Active EP or Match
// Descriptor response.
func (c *ZNPClient) handleEndpointList(status uint8, addr string, endpoints []uint8) {
	nwk, err := ParseNetworkAddress(addr)
	if err != nil {
		c.errorsTotal.Add(1)
		return
	}
	if status != 0 {
		c.logDebug("endpoint enumeration failed", "nwk", nwk.String(), "status", status)
		return
	}

	for _, ep := range endpoints {
		note := EndpointNotification{NetworkAddress: nwk, Endpoint: ep}
		c.dispatch(func(h Handlers) {
			if h.OnEndpoint != nil {
				h.OnEndpoint(note)
			}
		})
	}
}

// handleIncomingMessage forwards device-originated cluster commands.
func (c *ZNPClient) handleIncomingMessage(m *znp.AfIncomingMessage) {
	src, err := ParseNetworkAddress(m.SrcAddr)
	if err != nil {
		c.errorsTotal.Add(1)
		return
	}
	hdr, payload, err := ParseZCLFrame(m.Data)
	if err != nil {
		c.errorsTotal.Add(1)
		return
	}
	if !hdr.ClusterSpecific || !hdr.ServerToClient {
		return
	}

	cmd := ClusterCommand{
		Source:      src,
		Endpoint:    m.SrcEndpoint,
		Cluster:     m.ClusterID,
		Command:     hdr.Command,
		Sequence:    hdr.Sequence,
		Payload:     payload,
		LinkQuality: m.LinkQuality,
	}
	c.dispatch(func(h Handlers) {
		if h.OnClusterCommand != nil {
			h.OnClusterCommand(cmd)
		}
	})
}

// dispatch queues a handler invocation for the worker pool
// (non-blocking, dropped on overflow).
func (c *ZNPClient) dispatch(fn func(Handlers)) {
	select {
	case c.callbackQueue <- func() {
		c.handlersMu.RLock()
		h := c.handlers
		c.handlersMu.RUnlock()
		fn(h)
	}:
	default:
		c.logError("callback queue full, dropping indication", nil)
		c.framesDropped.Add(1)
		c.errorsTotal.Add(1)
	}
}

// callbackWorker runs queued handler invocations.
func (c *ZNPClient) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainCallbackQueue()
			return
		case fn := <-c.callbackQueue:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("indication callback panic", fmt.Errorf("%v", r))
					}
				}()
				fn()
			}()
		}
	}
}

// drainCallbackQueue discards remaining items during shutdown.
func (c *ZNPClient) drainCallbackQueue() {
	for {
		select {
		case <-c.callbackQueue:
		default:
			return
		}
	}
}

// addWaiter registers a matcher for an asynchronous response.
// Register before sending the request so a fast reply is not missed.
func (c *ZNPClient) addWaiter(match func(any) bool) (uint64, <-chan any) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()

	c.nextWaiter++
	id := c.nextWaiter
	w := &waiter{match: match, ch: make(chan any, 1)}
	c.waiters[id] = w
	return id, w.ch
}

func (c *ZNPClient) removeWaiter(id uint64) {
	c.waitersMu.Lock()
	delete(c.waiters, id)
	c.waitersMu.Unlock()
}

// deliverToWaiters hands the message to every matching waiter.
// Returns true if at least one waiter consumed it.
func (c *ZNPClient) deliverToWaiters(msg any) bool {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()

	consumed := false
	for id, w := range c.waiters {
		if w.match(msg) {
			select {
			case w.ch <- msg:
			default:
			}
			delete(c.waiters, id)
			consumed = true
		}
	}
	return consumed
}

// awaitMessage waits for a registered waiter or the request timeout.
func (c *ZNPClient) awaitMessage(ctx context.Context, ch <-chan any, what string) (any, error) {
	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		return msg, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: waiting for %s", ErrTimeout, what)
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", what, ctx.Err())
	case <-c.done.Done():
		return nil, ErrNotConnected
	}
}

// current returns the processor of the live session.
func (c *ZNPClient) current() (processor, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if !c.connected || c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess.np, nil
}

// call runs one synchronous znp-go request, bounded by the request timeout
// and ctx. Errors reported by znp-go are wrapped in ErrRequestFailed.
func (c *ZNPClient) call(ctx context.Context, what string, fn func(np processor) error) error {
	np, err := c.current()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}

	result := make(chan error, 1)
	go func() { result <- fn(np) }()
	c.framesTx.Add(1)

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			c.errorsTotal.Add(1)
			return fmt.Errorf("%w: %s: %w", ErrRequestFailed, what, err)
		}
		c.lastActivity.Store(time.Now().Unix())
		return nil
	case <-timer.C:
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: no response to %s", ErrTimeout, what)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	case <-c.done.Done():
		return ErrNotConnected
	}
}

// callStatus runs a request whose response carries a single status.
// Statuses in accept are treated as success alongside zero.
func (c *ZNPClient) callStatus(ctx context.Context, what string, fn func(np processor) (*znp.StatusResponse, error), accept ...uint8) error {
	var rsp *znp.StatusResponse
	err := c.call(ctx, what, func(np processor) (err error) {
		rsp, err = fn(np)
		return err
	})
	if err != nil {
		return err
	}
	if rsp == nil {
		return fmt.Errorf("%w: %s: empty response", ErrRequestFailed, what)
	}

	status := uint8(rsp.Status)
	if status == 0 {
		return nil
	}
	for _, a := range accept {
		if status == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s status 0x%02x", ErrRequestFailed, what, status)
}

// nextSequence returns the next AF transaction / ZCL sequence number.
func (c *ZNPClient) nextSequence() uint8 {
	return uint8(c.seq.Add(1))
}

// FirmwareVersion reads the processor's firmware version (SYS_VERSION).
//
// This is the first request sent after connecting; a failure here means
// the coordinator is unreachable.
//
// Returns:
//   - string: e.g. "2.7.1 (product 1, transport 2)"
//   - error: ErrTransport wrapping the cause on failure
func (c *ZNPClient) FirmwareVersion(ctx context.Context) (string, error) {
	var rsp *znp.SysVersionResponse
	err := c.call(ctx, "SYS_VERSION", func(np processor) (err error) {
		rsp, err = np.SysVersion()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: firmware version: %w", ErrTransport, err)
	}
	if rsp == nil {
		return "", fmt.Errorf("%w: firmware version: empty response", ErrTransport)
	}
	return fmt.Sprintf("%d.%d.%d (product %d, transport %d)",
		rsp.MajorRel, rsp.MinorRel, rsp.MaintRel, rsp.Product, rsp.TransportRev), nil
}

// StartCoordinator registers the local endpoint, starts the network in the
// coordinator role and records the coordinator's IEEE address
// (AF_REGISTER, ZDO_STARTUP_FROM_APP, UTIL_GET_DEVICE_INFO).
func (c *ZNPClient) StartCoordinator(ctx context.Context) error {
	if err := c.registerEndpoint(ctx); err != nil {
		return fmt.Errorf("%w: register endpoint: %w", ErrTransport, err)
	}

	id, ch := c.addWaiter(func(msg any) bool {
		ind, ok := msg.(*znp.ZdoStateChangeInd)
		return ok && uint8(ind.State) == deviceStateCoordinator
	})
	defer c.removeWaiter(id)

	var rsp *znp.ZdoStartupFromAppResponse
	err := c.call(ctx, "ZDO_STARTUP_FROM_APP", func(np processor) (err error) {
		rsp, err = np.ZdoStartupFromApp(startupDelay)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: startup: %w", ErrTransport, err)
	}
	if rsp == nil {
		return fmt.Errorf("%w: startup: empty response", ErrTransport)
	}

	// 0 = network restored, 1 = new network formed, 2 = leave and not started.
	status := uint8(rsp.Status)
	if status > 1 {
		return fmt.Errorf("%w: startup status 0x%02x", ErrTransport, status)
	}

	timer := time.NewTimer(c.startupTimeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
		if status != 0 {
			return fmt.Errorf("%w: coordinator did not come up", ErrTimeout)
		}
		// A processor that was already running does not announce the
		// state again.
		c.logDebug("no state change after restore, assuming coordinator is up")
	case <-ctx.Done():
		return fmt.Errorf("startup: %w", ctx.Err())
	}

	return c.loadLocalAddress(ctx)
}

// loadLocalAddress reads the coordinator's own IEEE address.
func (c *ZNPClient) loadLocalAddress(ctx context.Context) error {
	var info *znp.UtilGetDeviceInfoResponse
	err := c.call(ctx, "UTIL_GET_DEVICE_INFO", func(np processor) (err error) {
		info, err = np.UtilGetDeviceInfo()
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: device info: %w", ErrTransport, err)
	}
	if info == nil {
		return fmt.Errorf("%w: device info: empty response", ErrTransport)
	}
	addr, err := ParseIEEEAddress(info.IEEEAddr)
	if err != nil {
		return fmt.Errorf("coordinator address: %w", err)
	}
	c.localAddr.Store(uint64(addr))
	c.logInfo("coordinator started", "ieee", addr.String())
	return nil
}

// LocalAddress returns the coordinator's IEEE address, or zero before
// StartCoordinator has succeeded.
func (c *ZNPClient) LocalAddress() IEEEAddress {
	return IEEEAddress(c.localAddr.Load())
}

// registerEndpoint registers the local AF endpoint as a client of the
// clusters the bridge drives.
func (c *ZNPClient) registerEndpoint(ctx context.Context) error {
	in := []uint16{ClusterBasic}
	out := []uint16{ClusterBasic, ClusterOnOff, ClusterIASZone, ClusterSimpleMetering}

	return c.callStatus(ctx, "AF_REGISTER", func(np processor) (*znp.StatusResponse, error) {
		return np.AfRegister(c.cfg.Endpoint, c.cfg.ProfileID, localDeviceID, 0, znp.Latency(0), in, out)
	}, afStatusDuplicateEntry)
}

// PermitJoin opens the network for joining for the given number of seconds
// (ZDO_MGMT_PERMIT_JOIN_REQ, broadcast to all routers). Zero closes it.
func (c *ZNPClient) PermitJoin(ctx context.Context, seconds uint8) error {
	return c.callStatus(ctx, "ZDO_MGMT_PERMIT_JOIN_REQ", func(np processor) (*znp.StatusResponse, error) {
		return np.ZdoMgmtPermitJoinReq(znp.AddrMode(broadcastAddrMode), BroadcastRouters.String(), seconds, 0)
	})
}

// MatchEndpoints asks a node for endpoints of the given profile exposing any
// of the clusters the bridge understands (ZDO_MATCH_DESC_REQ).
// Replies arrive asynchronously through Handlers.OnEndpoint.
func (c *ZNPClient) MatchEndpoints(ctx context.Context, nwk NetworkAddress, profile uint16) error {
	clusters := []uint16{ClusterBasic, ClusterOnOff, ClusterIASZone, ClusterSimpleMetering}
	return c.callStatus(ctx, "ZDO_MATCH_DESC_REQ", func(np processor) (*znp.StatusResponse, error) {
		return np.ZdoMatchDescReq(nwk.String(), nwk.String(), profile, clusters, []uint16{})
	})
}

// ActiveEndpoints asks a node for all of its active endpoints (ZDO_ACTIVE_EP_REQ).
// Replies arrive asynchronously through Handlers.OnEndpoint.
func (c *ZNPClient) ActiveEndpoints(ctx context.Context, nwk NetworkAddress) error {
	return c.callStatus(ctx, "ZDO_ACTIVE_EP_REQ", func(np processor) (*znp.StatusResponse, error) {
		return np.ZdoActiveEpReq(nwk.String(), nwk.String())
	})
}

// SimpleDescriptor fetches an endpoint's descriptor, including its input
// cluster list (ZDO_SIMPLE_DESC_REQ / ZDO_SIMPLE_DESC_RSP).
func (c *ZNPClient) SimpleDescriptor(ctx context.Context, nwk NetworkAddress, endpoint uint8) (SimpleDescriptor, error) {
	id, ch := c.addWaiter(func(msg any) bool {
		rsp, ok := msg.(*znp.ZdoSimpleDescRsp)
		if !ok {
			return false
		}
		if addr, err := ParseNetworkAddress(rsp.NwkAddr); err != nil || addr != nwk {
			return false
		}
		return rsp.Status != 0 || rsp.Endpoint == endpoint
	})
	defer c.removeWaiter(id)

	err := c.callStatus(ctx, "ZDO_SIMPLE_DESC_REQ", func(np processor) (*znp.StatusResponse, error) {
		return np.ZdoSimpleDescReq(nwk.String(), nwk.String(), endpoint)
	})
	if err != nil {
		return SimpleDescriptor{}, err
	}

	msg, err := c.awaitMessage(ctx, ch, "simple descriptor")
	if err != nil {
		return SimpleDescriptor{}, err
	}
	return simpleDescriptorFrom(msg.(*znp.ZdoSimpleDescRsp))
}

func simpleDescriptorFrom(rsp *znp.ZdoSimpleDescRsp) (SimpleDescriptor, error) {
	if status := uint8(rsp.Status); status != 0 {
		return SimpleDescriptor{}, fmt.Errorf("%w: simple descriptor status 0x%02x", ErrRequestFailed, status)
	}
	return SimpleDescriptor{
		Endpoint:       rsp.Endpoint,
		ProfileID:      rsp.ProfileID,
		DeviceID:       rsp.DeviceID,
		DeviceVersion:  rsp.DeviceVersion,
		InputClusters:  rsp.InClusterList,
		OutputClusters: rsp.OutClusterList,
	}, nil
}

// ReadAttributes reads attributes of a cluster on a remote endpoint.
//
// Parameters:
//   - ctx: Context for cancellation
//   - nwk, endpoint: Target endpoint
//   - cluster: Cluster id
//   - ids: Attribute ids
//
// Returns:
//   - []AttributeRecord: One record per attribute answered (including failures)
//   - error: If the request or response fails
func (c *ZNPClient) ReadAttributes(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster uint16, ids []uint16) ([]AttributeRecord, error) {
	seq := c.nextSequence()
	payload, err := c.zclExchange(ctx, nwk, endpoint, cluster, seq, EncodeReadAttributes(seq, ids), ZCLReadAttributesResponse)
	if err != nil {
		return nil, err
	}
	return ParseReadAttributesResponse(payload)
}

// WriteAttribute writes one attribute of a cluster on a remote endpoint and
// waits for the Write Attributes Response.
func (c *ZNPClient) WriteAttribute(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster, id uint16, typ byte, value []byte) error {
	seq := c.nextSequence()
	payload, err := c.zclExchange(ctx, nwk, endpoint, cluster, seq, EncodeWriteAttribute(seq, id, typ, value), ZCLWriteAttributesResponse)
	if err != nil {
		return err
	}
	status, err := ParseWriteAttributesResponse(payload)
	if err != nil {
		return err
	}
	if status != ZCLStatusSuccess {
		return fmt.Errorf("%w: cluster 0x%04x attribute 0x%04x status 0x%02x", ErrAttributeWrite, cluster, id, status)
	}
	return nil
}

// InvokeCommand sends a cluster-specific command and waits for the
// device's Default Response.
func (c *ZNPClient) InvokeCommand(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster uint16, command uint8, payload []byte) error {
	seq := c.nextSequence()
	body, err := c.zclExchange(ctx, nwk, endpoint, cluster, seq, EncodeClusterCommand(seq, command, payload), ZCLDefaultResponse)
	if err != nil {
		return err
	}
	_, status, err := ParseDefaultResponse(body)
	if err != nil {
		return err
	}
	if status != ZCLStatusSuccess {
		return fmt.Errorf("%w: cluster 0x%04x command 0x%02x status 0x%02x", ErrCommandInvocation, cluster, command, status)
	}
	return nil
}

// zclExchange sends a ZCL frame with AF_DATA_REQUEST and waits for the
// global response command with the same sequence number.
// Returns the ZCL payload of the response.
func (c *ZNPClient) zclExchange(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster uint16, seq uint8, zcl []byte, respCmd byte) ([]byte, error) {
	id, ch := c.addWaiter(func(msg any) bool {
		m, ok := msg.(*znp.AfIncomingMessage)
		if !ok || m.ClusterID != cluster {
			return false
		}
		if src, err := ParseNetworkAddress(m.SrcAddr); err != nil || src != nwk {
			return false
		}
		hdr, _, err := ParseZCLFrame(m.Data)
		return err == nil && !hdr.ClusterSpecific && hdr.Sequence == seq && hdr.Command == respCmd
	})
	defer c.removeWaiter(id)

	err := c.callStatus(ctx, "AF_DATA_REQUEST", func(np processor) (*znp.StatusResponse, error) {
		return np.AfDataRequest(nwk.String(), endpoint, c.cfg.Endpoint, cluster, seq,
			&znp.AfDataRequestOptions{}, afDefaultRadius, zcl)
	})
	if err != nil {
		return nil, err
	}

	msg, err := c.awaitMessage(ctx, ch, fmt.Sprintf("ZCL 0x%02x from %s", respCmd, nwk))
	if err != nil {
		return nil, err
	}
	_, payload, err := ParseZCLFrame(msg.(*znp.AfIncomingMessage).Data)
	return payload, err
}

// handleDisconnect marks the transport as lost.
func (c *ZNPClient) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("connection lost, will attempt reconnection")
	}
}

// reconnect opens a new session with exponential backoff.
// Returns false if reconnection is disabled or shutdown was signalled.
func (c *ZNPClient) reconnect() (*session, bool) {
	if c.dial == nil {
		return nil, false
	}

	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.ReconnectInterval
	policy.MaxInterval = maxReconnectInterval

	for attempt := 1; ; attempt++ {
		select {
		case <-c.done.Done():
			return nil, false
		case <-time.After(policy.NextBackOff()):
		}

		c.logInfo("attempting reconnection", "attempt", attempt, "device", c.cfg.Device)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		next, err := c.dial(ctx, c.done.Done())
		cancel()
		if err != nil {
			c.logError("reconnect failed", err)
			c.errorsTotal.Add(1)
			continue
		}

		c.connMu.Lock()
		old := c.sess
		c.sess = next
		c.connected = true
		c.connMu.Unlock()
		if old != nil {
			old.close()
		}

		c.reconnectsTotal.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
		return next, true
	}
}

// isClosed returns true if the client has been closed.
func (c *ZNPClient) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close stops the event loop and closes the transport.
// Safe to call multiple times.
func (c *ZNPClient) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	sess := c.sess
	c.sess = nil
	c.connMu.Unlock()

	if sess != nil {
		sess.close()
	}

	c.wg.Wait()
	c.logInfo("connection closed")
	return nil
}

// SetHandlers installs the notification handlers.
func (c *ZNPClient) SetHandlers(h Handlers) {
	c.handlersMu.Lock()
	c.handlers = h
	c.handlersMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *ZNPClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the transport is open.
func (c *ZNPClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *ZNPClient) Stats() ZNPStats {
	return ZNPStats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

func (c *ZNPClient) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *ZNPClient) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *ZNPClient) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *ZNPClient) logError(msg string, err error) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

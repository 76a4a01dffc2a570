package zigbee

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the messages published to one topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler subscribed with the
// matching wildcard filter.
func (m *MockMQTTClient) SimulateMessage(filter, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[filter]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// attrKey addresses one attribute store on the mock network.
type attrKey struct {
	nwk      NetworkAddress
	endpoint uint8
	cluster  uint16
}

type attributeWrite struct {
	NWK      NetworkAddress
	Endpoint uint8
	Cluster  uint16
	ID       uint16
	Type     byte
	Value    []byte
}

type invocation struct {
	NWK      NetworkAddress
	Endpoint uint8
	Cluster  uint16
	Command  uint8
	Payload  []byte
}

// MockConnector implements Connector with a tiny simulated network.
type MockConnector struct {
	mu sync.Mutex

	connected bool
	stats     ZNPStats
	handlers  Handlers

	firmware    string
	firmwareErr error
	startErr    error
	permitErr   error
	permitJoins []uint8

	matchErr  error
	activeErr error
	matchReqs map[NetworkAddress]int
	active    map[NetworkAddress]int

	// endpoints are announced through OnEndpoint when ActiveEndpoints is called.
	endpoints map[NetworkAddress][]uint8

	descriptors map[NetworkAddress]map[uint8]SimpleDescriptor
	descErrs    map[endpointKey]error
	attrs       map[attrKey]map[uint16]AttributeRecord
	readErr     error
	reads       int

	invoked   []invocation
	invokeErr error

	local    IEEEAddress
	writes   []attributeWrite
	writeErr error
}

type endpointKey struct {
	nwk      NetworkAddress
	endpoint uint8
}

func NewMockConnector() *MockConnector {
	return &MockConnector{
		connected:   true,
		firmware:    "2.7.1 (product 1, transport 2)",
		local:       testCoordinator,
		matchReqs:   make(map[NetworkAddress]int),
		active:      make(map[NetworkAddress]int),
		endpoints:   make(map[NetworkAddress][]uint8),
		descriptors: make(map[NetworkAddress]map[uint8]SimpleDescriptor),
		descErrs:    make(map[endpointKey]error),
		attrs:       make(map[attrKey]map[uint16]AttributeRecord),
	}
}

func (m *MockConnector) FirmwareVersion(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firmwareErr != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, m.firmwareErr)
	}
	return m.firmware, nil
}

func (m *MockConnector) StartCoordinator(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startErr
}

func (m *MockConnector) PermitJoin(ctx context.Context, seconds uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.permitErr != nil {
		return m.permitErr
	}
	m.permitJoins = append(m.permitJoins, seconds)
	return nil
}

func (m *MockConnector) MatchEndpoints(ctx context.Context, nwk NetworkAddress, profile uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchReqs[nwk]++
	return m.matchErr
}

func (m *MockConnector) ActiveEndpoints(ctx context.Context, nwk NetworkAddress) error {
	m.mu.Lock()
	m.active[nwk]++
	err := m.activeErr
	eps := append([]uint8(nil), m.endpoints[nwk]...)
	h := m.handlers
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if h.OnEndpoint != nil {
		for _, ep := range eps {
			note := EndpointNotification{NetworkAddress: nwk, Endpoint: ep}
			go h.OnEndpoint(note)
		}
	}
	return nil
}

func (m *MockConnector) SimpleDescriptor(ctx context.Context, nwk NetworkAddress, endpoint uint8) (SimpleDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.descErrs[endpointKey{nwk: nwk, endpoint: endpoint}]; err != nil {
		return SimpleDescriptor{}, err
	}
	desc, ok := m.descriptors[nwk][endpoint]
	if !ok {
		return SimpleDescriptor{}, fmt.Errorf("%w: no descriptor for %s/%d", ErrTimeout, nwk, endpoint)
	}
	return desc, nil
}

func (m *MockConnector) ReadAttributes(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster uint16, ids []uint16) ([]AttributeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	store := m.attrs[attrKey{nwk: nwk, endpoint: endpoint, cluster: cluster}]
	records := make([]AttributeRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := store[id]
		if !ok {
			rec = AttributeRecord{ID: id, Status: ZCLStatusUnsupportedAttribute}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (m *MockConnector) LocalAddress() IEEEAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// WriteAttribute records the write and, on success, updates the simulated
// attribute store with the raw value.
func (m *MockConnector) WriteAttribute(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster, id uint16, typ byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, attributeWrite{NWK: nwk, Endpoint: endpoint, Cluster: cluster, ID: id, Type: typ, Value: value})
	if m.writeErr != nil {
		return m.writeErr
	}
	m.setAttributeLocked(nwk, endpoint, cluster, id, typ, value)
	return nil
}

// InvokeCommand records the command. On/Off commands also flip the
// simulated OnOff attribute.
func (m *MockConnector) InvokeCommand(ctx context.Context, nwk NetworkAddress, endpoint uint8, cluster uint16, command uint8, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invokeErr != nil {
		return m.invokeErr
	}
	m.invoked = append(m.invoked, invocation{NWK: nwk, Endpoint: endpoint, Cluster: cluster, Command: command, Payload: payload})
	if cluster == ClusterOnOff && command <= 1 {
		m.setAttributeLocked(nwk, endpoint, cluster, 0x0000, ZCLTypeBool, command == 1)
	}
	return nil
}

func (m *MockConnector) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

func (m *MockConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockConnector) Stats() ZNPStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Connected = m.connected
	return s
}

func (m *MockConnector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// AddEndpoint installs an endpoint with its input clusters on a node.
func (m *MockConnector) AddEndpoint(nwk NetworkAddress, endpoint uint8, clusters ...uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.descriptors[nwk] == nil {
		m.descriptors[nwk] = make(map[uint8]SimpleDescriptor)
	}
	m.descriptors[nwk][endpoint] = SimpleDescriptor{
		Endpoint:      endpoint,
		ProfileID:     ProfileHomeAutomation,
		DeviceID:      0x0100,
		InputClusters: clusters,
	}
	m.endpoints[nwk] = append(m.endpoints[nwk], endpoint)
}

// SetDescriptorError makes describing one endpoint fail. A nil error
// restores the installed descriptor.
func (m *MockConnector) SetDescriptorError(nwk NetworkAddress, endpoint uint8, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := endpointKey{nwk: nwk, endpoint: endpoint}
	if err == nil {
		delete(m.descErrs, key)
		return
	}
	m.descErrs[key] = err
}

// SetBasic installs Basic cluster identity on an endpoint.
func (m *MockConnector) SetBasic(nwk NetworkAddress, endpoint uint8, manufacturer, model string) {
	if manufacturer != "" {
		m.SetAttribute(nwk, endpoint, ClusterBasic, 0x0004, ZCLTypeCharString, manufacturer)
	}
	if model != "" {
		m.SetAttribute(nwk, endpoint, ClusterBasic, 0x0005, ZCLTypeCharString, model)
	}
}

func (m *MockConnector) SetAttribute(nwk NetworkAddress, endpoint uint8, cluster, id uint16, typ byte, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAttributeLocked(nwk, endpoint, cluster, id, typ, value)
}

func (m *MockConnector) setAttributeLocked(nwk NetworkAddress, endpoint uint8, cluster, id uint16, typ byte, value any) {
	k := attrKey{nwk: nwk, endpoint: endpoint, cluster: cluster}
	if m.attrs[k] == nil {
		m.attrs[k] = make(map[uint16]AttributeRecord)
	}
	m.attrs[k][id] = AttributeRecord{ID: id, Status: ZCLStatusSuccess, Type: typ, Value: value}
}

func (m *MockConnector) SetEnumerationErrors(match, active error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchErr = match
	m.activeErr = active
}

func (m *MockConnector) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MockConnector) SetInvokeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeErr = err
}

func (m *MockConnector) SetLocalAddress(ieee IEEEAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = ieee
}

func (m *MockConnector) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MockConnector) Writes() []attributeWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]attributeWrite(nil), m.writes...)
}

func (m *MockConnector) SetFirmwareError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firmwareErr = err
}

func (m *MockConnector) ActiveRequests(nwk NetworkAddress) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[nwk]
}

func (m *MockConnector) MatchRequests(nwk NetworkAddress) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchReqs[nwk]
}

func (m *MockConnector) Invocations() []invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]invocation(nil), m.invoked...)
}

func (m *MockConnector) PermitJoins() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint8(nil), m.permitJoins...)
}

func (m *MockConnector) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// SimulateNodeSeen delivers a node announcement through the installed handlers.
func (m *MockConnector) SimulateNodeSeen(ann NodeAnnouncement) {
	m.mu.Lock()
	h := m.handlers
	m.mu.Unlock()
	if h.OnNodeSeen != nil {
		h.OnNodeSeen(ann)
	}
}

// SimulateEndpoint delivers an endpoint notification.
func (m *MockConnector) SimulateEndpoint(note EndpointNotification) {
	m.mu.Lock()
	h := m.handlers
	m.mu.Unlock()
	if h.OnEndpoint != nil {
		h.OnEndpoint(note)
	}
}

// SimulateClusterCommand delivers an unsolicited cluster command.
func (m *MockConnector) SimulateClusterCommand(cmd ClusterCommand) {
	m.mu.Lock()
	h := m.handlers
	m.mu.Unlock()
	if h.OnClusterCommand != nil {
		h.OnClusterCommand(cmd)
	}
}

// recordingSink collects devices handed over by discovery.
type recordingSink struct {
	mu      sync.Mutex
	devices []DeviceAdapter
}

func (s *recordingSink) DeviceReady(d DeviceAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, d)
}

func (s *recordingSink) Devices() []DeviceAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceAdapter(nil), s.devices...)
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// nextEvent reads one event or fails the test.
func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// Test fixtures.
const (
	testIEEE IEEEAddress    = 0x00124B0001ABCDEF
	testNWK  NetworkAddress = 0x1A2B
)

package mqtt

import "fmt"

// TopicPrefixBridge is the root of every bridge topic.
//
// Bridge topics are flat: graylogic/{kind}/{protocol}[/{address}]. The
// address of a device is "{binding key}/{category code}".
const TopicPrefixBridge = "graylogic"

// Topics builds bridge topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("zigbee", "zigbee00124b0001a1b2c31/238")
//	// graylogic/state/zigbee/zigbee00124b0001a1b2c31/238
type Topics struct{}

// BridgeState returns the topic a bridge publishes device values on.
func (Topics) BridgeState(protocol, address string) string {
	return deviceTopic("state", protocol, address)
}

// BridgeCommand returns the topic Core writes device values on.
func (Topics) BridgeCommand(protocol, address string) string {
	return deviceTopic("command", protocol, address)
}

// BridgeAck returns the topic a bridge acknowledges commands on.
func (Topics) BridgeAck(protocol, address string) string {
	return deviceTopic("ack", protocol, address)
}

// BridgeRequest returns the topic for one bridge request, keyed by request ID.
func (Topics) BridgeRequest(protocol, requestID string) string {
	return deviceTopic("request", protocol, requestID)
}

// BridgeResponse returns the topic a bridge answers a request on.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return deviceTopic("response", protocol, requestID)
}

// BridgeHealth returns the retained health topic, also used for the will.
func (Topics) BridgeHealth(protocol string) string {
	return bridgeTopic("health", protocol)
}

// BridgeDiscovery returns the topic bound devices are registered on.
func (Topics) BridgeDiscovery(protocol string) string {
	return bridgeTopic("discovery", protocol)
}

// BridgeAnnounce returns the topic the bridge announces itself on at startup.
func (Topics) BridgeAnnounce(protocol string) string {
	return bridgeTopic("announce", protocol)
}

// BridgeCommands matches every command addressed to one bridge.
//
// Pattern: graylogic/command/{protocol}/#
func (Topics) BridgeCommands(protocol string) string {
	return deviceTopic("command", protocol, "#")
}

// BridgeRequests matches every request addressed to one bridge.
//
// Pattern: graylogic/request/{protocol}/#
func (Topics) BridgeRequests(protocol string) string {
	return deviceTopic("request", protocol, "#")
}

func bridgeTopic(kind, protocol string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixBridge, kind, protocol)
}

func deviceTopic(kind, protocol, address string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixBridge, kind, protocol, address)
}

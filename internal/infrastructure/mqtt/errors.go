package mqtt

import "errors"

var (
	// ErrNotConnected is returned while the broker connection is down.
	// Paho reconnects on its own; callers drop or retry the message.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the first connect to the broker
	// fails or times out. The bridge does not start without a broker.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a publish the broker did not acknowledge in time,
	// or a payload over the size cap.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a rejected or timed out subscription, or a nil
	// handler.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)

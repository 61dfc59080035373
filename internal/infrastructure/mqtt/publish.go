package mqtt

import (
	"context"
	"fmt"
)

// Maximum outbound payload size (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message at the configured QoS.
//
// Retained messages are used for the state and status topics so that
// late subscribers immediately see the current value.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	qos, err := checkPublish(topic, payload, c.cfg.QoS)
	if err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.pahoClient().Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// checkPublish validates publish arguments shared by both protocol clients.
func checkPublish(topic string, payload []byte, qos int) (byte, error) {
	if topic == "" {
		return 0, ErrInvalidTopic
	}
	q, err := validateQoS(qos)
	if err != nil {
		return 0, err
	}
	if len(payload) > maxPayloadSize {
		return 0, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return q, nil
}

package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

// Subscribe subscribes to topic at the configured QoS. Messages are
// delivered through Receive.
//
// The subscription is not tracked across sessions: after a reconnect the
// caller subscribes again.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	qos, err := validateQoS(c.cfg.QoS)
	if err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.pahoClient().Subscribe(topic, qos, c.onMessage)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subackFailure {
			return fmt.Errorf("%w: broker refused %q", ErrSubscribeFailed, topic)
		}
	}

	return nil
}

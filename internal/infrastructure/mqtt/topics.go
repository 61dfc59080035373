package mqtt

import "github.com/nerrad567/lightlink/internal/infrastructure/config"

// Topics provides the topic names used by one LightLink controller.
//
//	topics := mqtt.NewTopics(cfg.MQTT)
//	topics.Command() // "gdg/test"
//	topics.State()   // "gdg/test/state"
//	topics.Status()  // "gdg/test/status"
type Topics struct {
	command string
	state   string
	status  string
}

// NewTopics builds the topic set from configuration.
func NewTopics(cfg config.MQTTConfig) Topics {
	return Topics{
		command: cfg.Topics.Command,
		state:   cfg.StateTopic(),
		status:  cfg.StatusTopic(),
	}
}

// Command returns the subscribed command topic.
func (t Topics) Command() string {
	return t.command
}

// State returns the retained actuator state topic.
func (t Topics) State() string {
	return t.state
}

// Status returns the retained online/offline status topic, also used as the Last Will topic.
func (t Topics) Status() string {
	return t.status
}

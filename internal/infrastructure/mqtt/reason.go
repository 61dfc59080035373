package mqtt

import (
	"context"
	"errors"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// ReasonCode is the transport state reported after connect attempts and
// connection loss. Negative values are client-side conditions; positive
// values are the MQTT 3.1.1 CONNACK refusal codes.
type ReasonCode int

// Reason codes, numbered like the classic Arduino PubSubClient state().
const (
	ReasonConnectionTimeout ReasonCode = -4
	ReasonConnectionLost    ReasonCode = -3
	ReasonConnectFailed     ReasonCode = -2
	ReasonDisconnected      ReasonCode = -1
	ReasonConnected         ReasonCode = 0
	ReasonBadProtocol       ReasonCode = 1
	ReasonBadClientID       ReasonCode = 2
	ReasonUnavailable       ReasonCode = 3
	ReasonBadCredentials    ReasonCode = 4
	ReasonUnauthorised      ReasonCode = 5
)

// String returns the log-friendly name of the reason code.
func (r ReasonCode) String() string {
	switch r {
	case ReasonConnectionTimeout:
		return "connection_timeout"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonConnectFailed:
		return "connect_failed"
	case ReasonDisconnected:
		return "disconnected"
	case ReasonConnected:
		return "connected"
	case ReasonBadProtocol:
		return "bad_protocol"
	case ReasonBadClientID:
		return "bad_client_id"
	case ReasonUnavailable:
		return "unavailable"
	case ReasonBadCredentials:
		return "bad_credentials"
	case ReasonUnauthorised:
		return "unauthorised"
	default:
		return "unknown"
	}
}

// reasonFromConnack maps an MQTT 3.1.1 CONNACK return code and the
// connect error to a ReasonCode.
func reasonFromConnack(returnCode byte, err error) ReasonCode {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonConnectionTimeout
	}
	switch returnCode {
	case packets.Accepted:
		if err != nil {
			return ReasonConnectFailed
		}
		return ReasonConnected
	case packets.ErrRefusedBadProtocolVersion:
		return ReasonBadProtocol
	case packets.ErrRefusedIDRejected:
		return ReasonBadClientID
	case packets.ErrRefusedServerUnavailable:
		return ReasonUnavailable
	case packets.ErrRefusedBadUsernameOrPassword:
		return ReasonBadCredentials
	case packets.ErrRefusedNotAuthorised:
		return ReasonUnauthorised
	default:
		return ReasonConnectFailed
	}
}

// MQTT 5 CONNACK reason codes that have a 3.1.1 equivalent.
const (
	v5UnsupportedProtocol  = 0x84
	v5ClientIDNotValid     = 0x85
	v5BadUserNameOrPass    = 0x86
	v5NotAuthorized        = 0x87
	v5ServerUnavailable    = 0x88
	v5ServerBusy           = 0x89
	v5BadAuthMethod        = 0x8C
	v5ServerMoved          = 0x9D
	v5UseAnotherServer     = 0x9C
	v5ConnectionRateExceed = 0x9F
)

// reasonFromV5Connack folds MQTT 5 CONNACK reason codes onto the
// 3.1.1-shaped ReasonCode set.
func reasonFromV5Connack(code byte) ReasonCode {
	switch code {
	case 0:
		return ReasonConnected
	case v5UnsupportedProtocol:
		return ReasonBadProtocol
	case v5ClientIDNotValid:
		return ReasonBadClientID
	case v5BadUserNameOrPass, v5BadAuthMethod:
		return ReasonBadCredentials
	case v5NotAuthorized:
		return ReasonUnauthorised
	case v5ServerUnavailable, v5ServerBusy, v5ServerMoved, v5UseAnotherServer, v5ConnectionRateExceed:
		return ReasonUnavailable
	default:
		return ReasonConnectFailed
	}
}

package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixDevices is the base for all per-device topics.
const TopicPrefixDevices = "/devices"

// Topics provides builders for per-device MQTT topics:
//
//	cmd := mqtt.Topics{}.AllDeviceCommands("dev-1")
//	// Returns: "/devices/dev-1/commands/#"
type Topics struct{}

// AllDeviceCommands returns a pattern matching every command sent to a device.
//
// Pattern: /devices/dev-1/commands/#
func (Topics) AllDeviceCommands(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands/#", TopicPrefixDevices, deviceID)
}

// ValidateTopicName checks a topic used for publishing: non-empty and free of
// wildcards and NUL.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return fmt.Errorf("%w: %q contains wildcard or NUL", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a subscription filter: '+' must fill a whole
// level and '#' must be the whole last level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(filter, '\x00') {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidTopic, filter)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// MatchTopic reports whether topic matches filter under MQTT rules.
// Topics starting with '$' are not matched by a leading wildcard.
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

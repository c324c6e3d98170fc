package mqttc

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MatchTopic reports whether a topic name matches a topic filter.
//
// Matching is case-sensitive and works level by level on '/' separators:
//   - '+' matches exactly one level, which may be empty ("a/+" matches "a/")
//   - '#' must be the last level and matches zero or more trailing levels,
//     so "a/#" matches "a", "a/b" and "a/b/c"
//   - filters starting with a wildcard never match topics starting with '$'
//     (MQTT-4.7.2-1), so "#" does not match "$SYS/uptime"
//
// Example:
//
//	mqttc.MatchTopic("sensors/+/temp", "sensors/kitchen/temp") // true
//	mqttc.MatchTopic("sensors/#", "sensors")                   // true
//	mqttc.MatchTopic("Sensors/#", "sensors/kitchen")           // false
func MatchTopic(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	for {
		fLevel, fRest, fMore := strings.Cut(filter, "/")
		if fLevel == "#" && !fMore {
			return true
		}

		tLevel, tRest, tMore := strings.Cut(topic, "/")
		if fLevel != "+" && fLevel != tLevel {
			return false
		}

		switch {
		case !fMore && !tMore:
			return true
		case !tMore:
			// "a/#" also matches the parent level "a"
			return fRest == "#"
		case !fMore:
			return false
		}
		filter, topic = fRest, tRest
	}
}

// MQTT limits used when no option overrides them.
const (
	// DefaultMaxTopicLength is the longest topic a UTF-8 string field can hold.
	DefaultMaxTopicLength = 65535

	// DefaultMaxPayloadSize leaves room in the maximum remaining length for
	// the topic and packet identifier.
	DefaultMaxPayloadSize = 268435455 - 65535 - 4

	// DefaultMaxIncomingPacket is the largest remaining length MQTT allows.
	DefaultMaxIncomingPacket = 268435455
)

// getLimit returns the configured limit or the default if not set
func getLimit(configured, defaultLimit int) int {
	if configured > 0 {
		return configured
	}
	return defaultLimit
}

func validateTopicString(kind, s string, opts *clientOptions) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if maxLen := getLimit(opts.MaxTopicLength, DefaultMaxTopicLength); len(s) > maxLen {
		return fmt.Errorf("%s length %d exceeds maximum %d", kind, len(s), maxLen)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%s contains null byte which is not allowed", kind)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s is not valid UTF-8", kind)
	}
	return nil
}

// validatePublishTopic validates a topic for publishing.
// Publish topics must not contain wildcards.
func validatePublishTopic(topic string, opts *clientOptions) error {
	if err := validateTopicString("topic", topic, opts); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("topic %q contains a wildcard, which is not allowed in PUBLISH", topic)
	}
	return nil
}

// validateSubscribeTopic validates a topic filter for subscribing.
func validateSubscribeTopic(filter string, opts *clientOptions) error {
	if err := validateTopicString("topic filter", filter, opts); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("single-level wildcard '+' must occupy an entire level in %q", filter)
		}
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("multi-level wildcard '#' must be the entire last level in %q", filter)
		}
	}
	return nil
}

// validatePayload validates message payload size.
func validatePayload(payload []byte, opts *clientOptions) error {
	maxSize := getLimit(opts.MaxPayloadSize, DefaultMaxPayloadSize)
	if len(payload) > maxSize {
		return fmt.Errorf("payload size %d exceeds maximum %d", len(payload), maxSize)
	}
	return nil
}

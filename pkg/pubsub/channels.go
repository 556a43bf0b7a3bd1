package pubsub

import (
	"fmt"
	"strings"

	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// Channel naming conventions. Channels have the form {domain}:{scope}:{key};
// the Kafka driver maps them to topic "{domain}-{scope}" keyed by {key}.
const (
	// ChannelPresence carries online/offline transitions for one user.
	ChannelPresence = "presence:user:%s"

	// PatternPresence matches every presence channel.
	PatternPresence = "presence:user:*"
)

// Event types carried on presence channels.
const (
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
)

// PresenceChannel returns the channel name for a user's presence events.
func PresenceChannel(userID string) string {
	return fmt.Sprintf(ChannelPresence, userID)
}

// PresencePayload is the payload of presence events.
type PresencePayload struct {
	UserID   uint64 `json:"user_id"`
	Sessions int    `json:"sessions"`
}

// channelToTopicAndKey converts a channel to a Kafka topic and message key.
//
//	"presence:user:42" → topic: "presence-user", key: "42"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0] + "-" + parts[1], parts[2], nil
}

// patternToTopic converts a subscribe pattern to a Kafka topic.
//
//	"presence:user:*" → "presence-user"
func patternToTopic(pattern string) (string, error) {
	topic, _, err := channelToTopicAndKey(strings.ReplaceAll(pattern, "*", "_all_"))
	return topic, err
}

// dropped logs an event discarded because the subscriber fell behind.
func dropped(channel, eventType string) {
	l := log.L()
	l.Warn().Str("channel", channel).Str("event_type", eventType).Msg("pubsub subscriber is behind, event dropped")
}

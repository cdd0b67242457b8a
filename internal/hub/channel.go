package hub

import (
	"github.com/good-yellow-bee/sentinel/internal/errs"
)

// Channel names a broadcast group. The set is closed.
type Channel string

// Broadcast channels.
const (
	ChannelAlerts     Channel = "alerts"
	ChannelDetections Channel = "detections"
	ChannelCameras    Channel = "cameras"
	ChannelSystem     Channel = "system"
)

// Channels lists every valid channel.
var Channels = []Channel{ChannelAlerts, ChannelDetections, ChannelCameras, ChannelSystem}

// ParseChannel returns the channel named s.
func ParseChannel(s string) (Channel, error) {
	for _, ch := range Channels {
		if string(ch) == s {
			return ch, nil
		}
	}
	return "", errs.Validation("channel", "unknown channel %q", s)
}

func (c Channel) String() string { return string(c) }

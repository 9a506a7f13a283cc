package topic

import (
	"fmt"
)

// Topic segments reported by the update agent. Changing them breaks the
// consumers that follow update progress.
const (
	// SuffixProgress carries the overall session progress.
	// Structure: {root}/ota/progress/{deviceID}
	SuffixProgress = "ota/progress"

	// SuffixStatus carries session state transitions and the final result.
	// Structure: {root}/ota/status/{deviceID}
	SuffixStatus = "ota/status"

	// SuffixPresence carries the agent online/offline marker, also used as
	// the MQTT will.
	// Structure: {root}/ota/presence/{deviceID}
	SuffixPresence = "ota/presence"

	// Wildcard is the single-level MQTT wildcard.
	Wildcard = "+"
)

// TopicBuilder constructs the topics for one root namespace.
type TopicBuilder struct {
	root string
}

// NewTopicBuilder returns a builder rooted at root, e.g. "iov/v1".
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

func (b *TopicBuilder) Progress(deviceID string) string {
	return b.build(SuffixProgress, deviceID)
}

func (b *TopicBuilder) Status(deviceID string) string {
	return b.build(SuffixStatus, deviceID)
}

func (b *TopicBuilder) Presence(deviceID string) string {
	return b.build(SuffixPresence, deviceID)
}

// ProgressWildcard matches the progress topic of every device.
func (b *TopicBuilder) ProgressWildcard() string {
	return b.build(SuffixProgress, Wildcard)
}

func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}

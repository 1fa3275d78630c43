package repository

// MessageBus publishes facts for subscribers outside the request path.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// TopicRewardIssued carries model.RewardIssued payloads.
const TopicRewardIssued = "rewards.issued"

// NoopBus drops every message. Used when no bus provider is configured.
type NoopBus struct{}

func (NoopBus) Publish(string, []byte) error { return nil }

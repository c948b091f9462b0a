// Package entity defines domain types shared across the application.

package entity

// Notification topics used to route operator alerts.
// Log calls tag messages with sl.Topic(entity.TopicXxx).
const (
	TopicPayment  = "payment"
	TopicLedger   = "ledger"
	TopicError    = "error"
	TopicSystem   = "system"
	TopicSecurity = "security"
)

var allTopics = []string{
	TopicPayment,
	TopicLedger,
	TopicError,
	TopicSystem,
	TopicSecurity,
}

func AllTopics() []string {
	result := make([]string, len(allTopics))
	copy(result, allTopics)
	return result
}

func IsValidTopic(topic string) bool {
	for _, t := range allTopics {
		if t == topic {
			return true
		}
	}
	return false
}

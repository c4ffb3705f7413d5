package model

// Importance levels assigned by the classifier.
const (
	ImportanceHigh   = "high"
	ImportanceNormal = "normal"
	ImportanceLow    = "low"
)

// Message categories assigned by the classifier.
const (
	CategoryScheduling   = "scheduling"
	CategoryNotification = "notification"
	CategoryMarketing    = "marketing"
	CategoryWork         = "work"
	CategoryGeneral      = "general"
)

// Classification is the derived value object produced per message. It is not
// persisted on its own; the queue uses it to decide whether a message is
// worth sending to the AI analyzer and in which order.
type Classification struct {
	ImportanceLevel      string
	HasSchedulingContent bool
	SchedulingKeywords   []string
	ShouldAnalyzeWithAI  bool
	PriorityScore        float64
	Category             string
	Confidence           float64
}

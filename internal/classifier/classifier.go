package classifier

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"inboxflow/internal/model"
)

// Scheduling keyword vocabulary. Strong terms carry more weight.
var schedulingKeywords = map[string]float64{
	"meeting":      0.3,
	"meet":         0.25,
	"deadline":     0.3,
	"appointment":  0.3,
	"schedule":     0.25,
	"call":         0.2,
	"interview":    0.25,
	"conference":   0.2,
	"reminder":     0.2,
	"due":          0.2,
	"event":        0.15,
	"invite":       0.15,
	"reschedule":   0.2,
	"availability": 0.15,
	"agenda":       0.15,
	"calendar":     0.2,
}

var highPriorityKeywords = []string{
	"urgent", "asap", "important", "critical", "action required", "immediately", "priority",
}

var lowPrioritySenderIndicators = []string{
	"no-reply", "noreply", "newsletter", "marketing", "notifications@", "donotreply",
}

var lowPrioritySubjectIndicators = []string{
	"newsletter", "unsubscribe", "promotion", "sale", "% off", "discount", "weekly digest",
}

var workKeywords = []string{
	"project", "report", "review", "proposal", "budget", "client", "contract", "invoice",
}

var highSignalDomains = []string{
	"linkedin.com", "github.com", "atlassian.net", "calendar.google.com",
}

// Date/time-like patterns: explicit dates, times of day, weekday names,
// month names, relative-day phrases.
var dateTimePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}[/\-.]\d{1,2}([/\-.]\d{2,4})?\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s*(am|pm)\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\b`),
	regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`),
	regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|next week|next month|this week|this evening)\b`),
}

// Classifier scores inbound messages for scheduling relevance without side
// effects. Injected into the work queue so tests can substitute fakes.
type Classifier struct {
	priorityKeywords []string
	priorityDomains  []string
}

func New() *Classifier {
	return &Classifier{}
}

// NewWithSettings builds a classifier whose high-priority keyword and domain
// lists are extended by per-user automation settings.
func NewWithSettings(settings *model.AutomationSettings) *Classifier {
	c := &Classifier{}
	if settings != nil {
		c.priorityKeywords = settings.PriorityKeywords
		c.priorityDomains = settings.PriorityDomains
	}
	return c
}

// Classify scores a single message. It never fails: missing fields degrade
// to conservative, low-confidence defaults.
func (c *Classifier) Classify(msg *model.InboundMessage, ownerAddress string, now time.Time) model.Classification {
	if msg == nil {
		return model.Classification{
			ImportanceLevel: model.ImportanceLow,
			Category:        model.CategoryGeneral,
			Confidence:      0.1,
		}
	}

	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.EffectiveBody())
	content := subject + " " + body
	contentLength := len(strings.TrimSpace(msg.Subject)) + len(strings.TrimSpace(msg.EffectiveBody()))
	sender := strings.ToLower(msg.FromAddress)

	schedulingScore, keywords := c.schedulingScore(content)
	importanceScore, importantLabel := c.importanceScore(msg, subject, sender, ownerAddress)

	hasScheduling := schedulingScore >= 0.3

	importance := model.ImportanceNormal
	switch {
	case importanceScore >= 0.7 || importantLabel:
		importance = model.ImportanceHigh
	case importanceScore <= 0.3 || isNoReply(sender):
		importance = model.ImportanceLow
	}

	return model.Classification{
		ImportanceLevel:      importance,
		HasSchedulingContent: hasScheduling,
		SchedulingKeywords:   keywords,
		ShouldAnalyzeWithAI:  shouldAnalyze(contentLength, importance, hasScheduling, schedulingScore),
		PriorityScore:        priorityScore(schedulingScore, importanceScore, msg.ReceivedAt, now),
		Category:             c.category(schedulingScore, sender, subject, content),
		Confidence:           confidence(schedulingScore, importanceScore, contentLength),
	}
}

func (c *Classifier) schedulingScore(content string) (float64, []string) {
	score := 0.0
	var matched []string
	for kw, weight := range schedulingKeywords {
		if strings.Contains(content, kw) {
			score += weight
			matched = append(matched, kw)
		}
	}
	sort.Strings(matched)

	// ≥2 个不同关键词：加分一次
	if len(matched) >= 2 {
		score += 0.1
	}
	// 日期/时间模式：加分一次，不叠加
	for _, p := range dateTimePatterns {
		if p.MatchString(content) {
			score += 0.1
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, matched
}

func (c *Classifier) importanceScore(msg *model.InboundMessage, subject, sender, ownerAddress string) (float64, bool) {
	score := 0.5

	for _, kw := range append(highPriorityKeywords, lowerAll(c.priorityKeywords)...) {
		if strings.Contains(subject, kw) {
			score += 0.2
			break
		}
	}

	for _, domain := range append(highSignalDomains, lowerAll(c.priorityDomains)...) {
		if strings.HasSuffix(sender, "@"+domain) || strings.HasSuffix(sender, "."+domain) || strings.Contains(sender, domain) {
			score += 0.3
			break
		}
	}

	importantLabel := false
	for _, label := range msg.Labels {
		if strings.EqualFold(label, "important") {
			importantLabel = true
			score += 0.3
			break
		}
	}

	if isLowPrioritySender(sender) || matchesAny(subject, lowPrioritySubjectIndicators) {
		score -= 0.3
	}

	if ownerAddress != "" && strings.EqualFold(msg.FromAddress, ownerAddress) {
		score += 0.1
	}

	return clamp01(score), importantLabel
}

func shouldAnalyze(contentLength int, importance string, hasScheduling bool, schedulingScore float64) bool {
	// 内容太短：不值得调用 AI，无论其他信号如何
	if contentLength < 20 {
		return false
	}
	if importance == model.ImportanceHigh {
		return true
	}
	if hasScheduling && schedulingScore >= 0.5 {
		return true
	}
	if importance == model.ImportanceLow && !hasScheduling {
		return false
	}
	return schedulingScore >= 0.3
}

// priorityScore is the queue ordering key, not the task priority.
func priorityScore(schedulingScore, importanceScore float64, receivedAt, now time.Time) float64 {
	age := now.Sub(receivedAt)

	recency := 0.2
	switch {
	case age < time.Hour:
		recency = 1.0
	case age < 6*time.Hour:
		recency = 0.8
	case age < 24*time.Hour:
		recency = 0.6
	case age < 72*time.Hour:
		recency = 0.4
	}

	return 0.4*schedulingScore + 0.4*importanceScore + 0.2*recency
}

func (c *Classifier) category(schedulingScore float64, sender, subject, content string) string {
	switch {
	case schedulingScore >= 0.5:
		return model.CategoryScheduling
	case isNoReply(sender):
		return model.CategoryNotification
	case matchesAny(subject, lowPrioritySubjectIndicators):
		return model.CategoryMarketing
	case matchesAny(content, workKeywords):
		return model.CategoryWork
	default:
		return model.CategoryGeneral
	}
}

func confidence(schedulingScore, importanceScore float64, contentLength int) float64 {
	conf := 0.5
	if schedulingScore >= 0.7 || importanceScore >= 0.7 {
		conf += 0.3
	}
	if contentLength >= 100 {
		conf += 0.1
	}
	if contentLength < 20 {
		conf -= 0.2
	}

	if conf > 1.0 {
		conf = 1.0
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

func isNoReply(sender string) bool {
	return strings.Contains(sender, "no-reply") ||
		strings.Contains(sender, "noreply") ||
		strings.Contains(sender, "donotreply")
}

func isLowPrioritySender(sender string) bool {
	return matchesAny(sender, lowPrioritySenderIndicators)
}

func matchesAny(s string, indicators []string) bool {
	for _, ind := range indicators {
		if strings.Contains(s, ind) {
			return true
		}
	}
	return false
}

func lowerAll(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToLower(s)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

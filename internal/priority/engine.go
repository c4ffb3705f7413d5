package priority

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"inboxflow/internal/model"
)

// Sub-score weights. Time pressure dominates; user history is deliberately
// muted.
const (
	weightTime    = 0.35
	weightContent = 0.25
	weightContext = 0.20
	weightAI      = 0.15
	weightUser    = 0.05
)

var urgentKeywords = []string{
	"urgent", "asap", "immediately", "critical", "emergency", "right away",
}

var importantKeywords = []string{
	"important", "priority", "action required", "please review", "needed", "required",
}

var categoryBonus = map[string]float64{
	"work":      10,
	"project":   15,
	"finance":   12,
	"health":    8,
	"education": 6,
	"personal":  5,
	"social":    3,
	"household": 4,
	"travel":    7,
	"other":     0,
}

var emailTypeBonus = map[string]float64{
	"request":      15,
	"reminder":     12,
	"notification": 8,
	"information":  5,
}

var businessImpactBonus = map[string]float64{
	"high":   20,
	"medium": 10,
}

var aiUrgencyBonus = map[string]float64{
	"urgent": 30,
	"high":   20,
	"medium": 10,
}

// PriorityFactors are the contextual signals fed into the engine for one
// task candidate.
type PriorityFactors struct {
	Title             string
	Description       string
	Category          string
	DueDate           *time.Time
	CreatedAt         time.Time
	EstimatedDuration int // minutes

	SenderImportance int // 0..5
	EmailType        string
	StakeholderCount int
	BusinessImpact   string // high, medium, low
	DependentTasks   int
	BlockedByCount   int

	AIConfidence float64 // 0..1
	AIUrgency    string  // urgent, high, medium, low

	EngagementScore       float64 // 0..1, historical engagement with similar tasks
	AvgCompletionRatio    float64 // avg actual/estimated completion time for similar tasks
	HasCompletionHistory  bool
}

// FactorImpact is one explainable contribution to the final score.
type FactorImpact struct {
	Factor      string  `json:"factor"`
	Impact      float64 `json:"impact"`
	Explanation string  `json:"explanation"`
}

// Reasoning carries the explainability output. Downstream UI and audit
// logging depend on it; it is part of the contract, not cosmetic.
type Reasoning struct {
	Factors []FactorImpact `json:"factors"`
	Summary string         `json:"summary"`
}

// Result is the scored priority for one candidate.
type Result struct {
	FinalPriority   string         `json:"final_priority"`
	PriorityScore   int            `json:"priority_score"`
	Reasoning       Reasoning      `json:"reasoning"`
	DynamicFactors  map[string]int `json:"dynamic_factors"`
	Recommendations []string       `json:"recommendations"`
}

// Engine converts contextual signals into a priority level with explainable
// reasoning. Pure except for logging; injected where needed.
type Engine struct {
	now    func() time.Time
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{now: time.Now, logger: logger}
}

// NewEngineAt pins the clock, for tests.
func NewEngineAt(logger *zap.Logger, now func() time.Time) *Engine {
	return &Engine{now: now, logger: logger}
}

// Score computes the weighted multi-factor priority for one candidate.
func (e *Engine) Score(f PriorityFactors) Result {
	now := e.now()

	var reasons []FactorImpact

	timeScore := e.timeScore(f, now, &reasons)
	contentScore := e.contentScore(f, &reasons)
	contextScore := e.contextScore(f, &reasons)
	aiScore := e.aiScore(f, &reasons)
	userScore := e.userScore(f, &reasons)

	combined := weightTime*timeScore +
		weightContent*contentScore +
		weightContext*contextScore +
		weightAI*aiScore +
		weightUser*userScore

	score := int(math.Round(clamp(combined, 0, 100)))

	level := model.PriorityLow
	switch {
	case score >= 80:
		level = model.PriorityUrgent
	case score >= 65:
		level = model.PriorityHigh
	case score >= 40:
		level = model.PriorityMedium
	}

	result := Result{
		FinalPriority: level,
		PriorityScore: score,
		Reasoning: Reasoning{
			Factors: reasons,
			Summary: fmt.Sprintf("scored %d (%s) from time=%.0f content=%.0f context=%.0f ai=%.0f user=%.0f",
				score, level, timeScore, contentScore, contextScore, aiScore, userScore),
		},
		DynamicFactors: map[string]int{
			"time":    int(math.Round(timeScore)),
			"content": int(math.Round(contentScore)),
			"context": int(math.Round(contextScore)),
			"ai":      int(math.Round(aiScore)),
			"user":    int(math.Round(userScore)),
		},
		Recommendations: e.recommendations(f, now),
	}

	return result
}

// ScoreBatch scores candidates independently. One bad input degrades to a
// default medium result with a reasoning note instead of aborting the batch.
func (e *Engine) ScoreBatch(factors []PriorityFactors) []Result {
	results := make([]Result, 0, len(factors))
	for i, f := range factors {
		result := func() (r Result) {
			defer func() {
				if rec := recover(); rec != nil {
					if e.logger != nil {
						e.logger.Error("Priority scoring panic, degrading to medium",
							zap.Int("index", i),
							zap.Any("panic", rec),
						)
					}
					r = defaultResult(fmt.Sprintf("scoring failed (%v); defaulted to medium", rec))
				}
			}()
			return e.Score(f)
		}()
		results = append(results, result)
	}
	return results
}

func defaultResult(note string) Result {
	return Result{
		FinalPriority: model.PriorityMedium,
		PriorityScore: 50,
		Reasoning: Reasoning{
			Factors: []FactorImpact{{Factor: "default", Impact: 0, Explanation: note}},
			Summary: note,
		},
		DynamicFactors: map[string]int{},
	}
}

func (e *Engine) timeScore(f PriorityFactors, now time.Time, reasons *[]FactorImpact) float64 {
	score := 30.0

	if f.DueDate != nil {
		until := f.DueDate.Sub(now)
		switch {
		case until < 0:
			score += 40
			add(reasons, "overdue", 40, "due date has already passed")
		case until <= 24*time.Hour:
			score += 35
			add(reasons, "due_soon", 35, "due within one day")
		case until <= 72*time.Hour:
			score += 25
			add(reasons, "due_soon", 25, "due within three days")
		case until <= 7*24*time.Hour:
			score += 15
			add(reasons, "due_this_week", 15, "due within a week")
		}
	}

	if !f.CreatedAt.IsZero() && now.Sub(f.CreatedAt) > 7*24*time.Hour {
		score += 10
		add(reasons, "aging", 10, "item has been waiting more than a week")
	}

	if f.EstimatedDuration > 240 {
		score += 5
		add(reasons, "long_task", 5, "estimated effort exceeds four hours")
	}

	return clamp(score, 0, 100)
}

func (e *Engine) contentScore(f PriorityFactors, reasons *[]FactorImpact) float64 {
	score := 30.0
	text := strings.ToLower(f.Title + " " + f.Description)

	urgent := 0.0
	for _, kw := range urgentKeywords {
		if strings.Contains(text, kw) {
			urgent += 15
		}
	}
	if urgent > 30 {
		urgent = 30
	}
	if urgent > 0 {
		score += urgent
		add(reasons, "urgent_keywords", urgent, "urgent wording in title or description")
	}

	important := 0.0
	for _, kw := range importantKeywords {
		if strings.Contains(text, kw) {
			important += 10
		}
	}
	if important > 20 {
		important = 20
	}
	if important > 0 {
		score += important
		add(reasons, "important_keywords", important, "importance wording in title or description")
	}

	if bonus, ok := categoryBonus[strings.ToLower(f.Category)]; ok && bonus > 0 {
		score += bonus
		add(reasons, "category", bonus, fmt.Sprintf("category %q baseline", f.Category))
	}

	return clamp(score, 0, 100)
}

func (e *Engine) contextScore(f PriorityFactors, reasons *[]FactorImpact) float64 {
	score := 30.0

	if f.SenderImportance > 0 {
		bonus := float64(f.SenderImportance) * 4
		score += bonus
		add(reasons, "sender_importance", bonus, "sender importance level")
	}

	if bonus, ok := emailTypeBonus[strings.ToLower(f.EmailType)]; ok {
		score += bonus
		add(reasons, "email_type", bonus, fmt.Sprintf("message is a %s", f.EmailType))
	}

	if f.StakeholderCount > 0 {
		bonus := math.Min(float64(f.StakeholderCount)*3, 15)
		score += bonus
		add(reasons, "stakeholders", bonus, fmt.Sprintf("%d stakeholders involved", f.StakeholderCount))
	}

	if bonus, ok := businessImpactBonus[strings.ToLower(f.BusinessImpact)]; ok {
		score += bonus
		add(reasons, "business_impact", bonus, fmt.Sprintf("%s business impact", f.BusinessImpact))
	}

	if f.DependentTasks > 0 {
		bonus := math.Min(float64(f.DependentTasks)*5, 15)
		score += bonus
		add(reasons, "dependents", bonus, fmt.Sprintf("%d tasks depend on this one", f.DependentTasks))
	}

	if f.BlockedByCount > 0 {
		penalty := math.Min(float64(f.BlockedByCount)*5, 15)
		score -= penalty
		add(reasons, "blocked", -penalty, fmt.Sprintf("blocked by %d unfinished dependencies", f.BlockedByCount))
	}

	return clamp(score, 0, 100)
}

func (e *Engine) aiScore(f PriorityFactors, reasons *[]FactorImpact) float64 {
	score := 30.0

	if f.AIConfidence > 0 {
		bonus := clamp(f.AIConfidence, 0, 1) * 20
		score += bonus
		add(reasons, "ai_confidence", bonus, fmt.Sprintf("analyzer confidence %.2f", f.AIConfidence))
	}

	if bonus, ok := aiUrgencyBonus[strings.ToLower(f.AIUrgency)]; ok {
		score += bonus
		add(reasons, "ai_urgency", bonus, fmt.Sprintf("analyzer assessed urgency %s", f.AIUrgency))
	}

	return clamp(score, 0, 100)
}

func (e *Engine) userScore(f PriorityFactors, reasons *[]FactorImpact) float64 {
	score := 30.0

	if f.EngagementScore > 0 {
		bonus := clamp(f.EngagementScore, 0, 1) * 50
		score += bonus
		add(reasons, "engagement", bonus, "historical engagement with similar tasks")
	}

	// 用户平均完成时间比估计快 ≥20% 时加分
	if f.HasCompletionHistory && f.AvgCompletionRatio > 0 && f.AvgCompletionRatio <= 0.8 {
		score += 10
		add(reasons, "quick_completer", 10, "similar tasks usually finished well under estimate")
	}

	return clamp(score, 0, 100)
}

func (e *Engine) recommendations(f PriorityFactors, now time.Time) []string {
	var recs []string

	if f.DueDate != nil {
		if f.DueDate.Before(now) {
			recs = append(recs, "This task is overdue; handle it first or renegotiate the deadline.")
		} else if f.DueDate.Sub(now) <= 24*time.Hour {
			recs = append(recs, "Due within 24 hours; schedule a slot today.")
		}
	}

	if f.EstimatedDuration > 240 {
		recs = append(recs, "Large task; consider splitting it into smaller steps.")
	}

	if f.BlockedByCount > 0 {
		recs = append(recs, "Blocked by unfinished dependencies; resolve those first.")
	}

	if f.HasCompletionHistory && f.EngagementScore > 0 && f.EngagementScore < 0.3 {
		recs = append(recs, "You rarely engage with tasks like this; consider delegating or dropping it.")
	}

	if f.AIConfidence > 0 && f.AIConfidence < 0.5 {
		recs = append(recs, "Low analyzer confidence; review the extracted details before acting.")
	}

	return recs
}

func add(reasons *[]FactorImpact, factor string, impact float64, explanation string) {
	*reasons = append(*reasons, FactorImpact{Factor: factor, Impact: impact, Explanation: explanation})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

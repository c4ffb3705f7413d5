package mq

import "time"

// EmailReceivedPayload 邮件收到事件的 payload
type EmailReceivedPayload struct {
	MessageID   string    `json:"message_id"`
	ThreadID    string    `json:"thread_id"`
	UserID      int       `json:"user_id"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name"`
	To          string    `json:"to"`
	Body        string    `json:"body"`
	Snippet     string    `json:"snippet"`
	Labels      []string  `json:"labels"`
	Attachments int       `json:"attachments"`
	ReceivedAt  time.Time `json:"received_at"`
}

// TaskCreatedPayload 任务自动创建事件的 payload
type TaskCreatedPayload struct {
	TaskID     int       `json:"task_id"`
	UserID     int       `json:"user_id"`
	WorkItemID int       `json:"work_item_id"`
	Title      string    `json:"title"`
	Priority   string    `json:"priority"`
	DueDate    time.Time `json:"due_date,omitzero"`
	Scheduled  bool      `json:"scheduled"`
}

// ProcessingFailedPayload 处理失败事件的 payload
type ProcessingFailedPayload struct {
	WorkItemID int    `json:"work_item_id"`
	UserID     int    `json:"user_id"`
	MessageID  string `json:"message_id"`
	Error      string `json:"error"`
}

// SuggestionCreatedPayload 待审批建议事件的 payload
type SuggestionCreatedPayload struct {
	SuggestionID int     `json:"suggestion_id"`
	UserID       int     `json:"user_id"`
	WorkItemID   int     `json:"work_item_id"`
	Title        string  `json:"title"`
	Confidence   float64 `json:"confidence"`
}

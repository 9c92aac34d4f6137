package models

// ParticipantView is a participant with its user profile joined in.
type ParticipantView struct {
	Participant
	User     *UserSummary `json:"user,omitempty"`
	IsOnline bool         `json:"isOnline"`
}

// ChatView is the API shape of a chat after the read-side join.
type ChatView struct {
	Chat
	Participants []ParticipantView `json:"participants"`
	Creator      *Creator          `json:"creator,omitempty"`
}

// ReplySummary is the quoted message shown above a reply.
type ReplySummary struct {
	ID       string      `json:"id"`
	Content  string      `json:"content"`
	SenderID string      `json:"senderId"`
	Type     MessageType `json:"type"`
}

// MessageView is the API shape of a message after the read-side join.
type MessageView struct {
	Message
	Sender       *UserSummary  `json:"sender,omitempty"`
	ReplyToEntry *ReplySummary `json:"replyToMessage,omitempty"`
}

// Pagination describes a page of results.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// NewPagination computes the page count for total items.
func NewPagination(page, limit int, total int64) Pagination {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

package models

import "time"

// Role identifies which side of a chat a participant is on.
type Role string

const (
	RoleUser    Role = "user"
	RoleCreator Role = "creator"
)

// Valid reports whether r is a known participant role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleCreator
}

// Participant binds a user to a chat.
type Participant struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// LastMessage is the denormalized snapshot rendered in chat lists.
type LastMessage struct {
	Content   string      `json:"content"`
	SenderID  string      `json:"senderId"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}

// Chat is a 1:1 conversation between a user and a creator.
type Chat struct {
	ID           string         `json:"id"`
	Participants []Participant  `json:"participants"`
	CreatorID    string         `json:"creatorId"`
	LastMessage  *LastMessage   `json:"lastMessage,omitempty"`
	UnreadCount  map[string]int `json:"unreadCount"`
	IsActive     bool           `json:"isActive"`
	IsBlocked    bool           `json:"isBlocked"`
	BlockedBy    string         `json:"blockedBy,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// NewChat builds the chat anchored on creatorID between userID and the creator's own user.
func NewChat(creatorID, userID, creatorUserID string, now time.Time) Chat {
	return Chat{
		Participants: []Participant{
			{UserID: userID, Role: RoleUser, JoinedAt: now},
			{UserID: creatorUserID, Role: RoleCreator, JoinedAt: now},
		},
		CreatorID:   creatorID,
		UnreadCount: map[string]int{userID: 0, creatorUserID: 0},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ParticipantIDs returns the user ids of every participant in order.
func (c Chat) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Participant returns the participant record for userID.
func (c Chat) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// IsParticipant checks whether userID belongs to the chat.
func (c Chat) IsParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

// OtherParticipant returns the counterpart of userID, or nil when there is none.
func (c Chat) OtherParticipant(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID != userID {
			p := c.Participants[i]
			return &p
		}
	}
	return nil
}

// Unread returns the pending unread count for userID.
func (c Chat) Unread(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

// PairKey identifies the (creator, user) pair a chat is unique for.
func PairKey(creatorID, userID string) string {
	return creatorID + ":" + userID
}

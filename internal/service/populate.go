package service

import (
	"context"

	"fyzo-chat/internal/models"
)

// populateChats attaches participant profiles, presence and the creator summary.
// Directory failures degrade to unpopulated views; the chats themselves are already correct.
func (s *ChatService) populateChats(ctx context.Context, chats []models.Chat) []models.ChatView {
	var userIDs, creatorIDs []string
	for _, c := range chats {
		userIDs = append(userIDs, c.ParticipantIDs()...)
		creatorIDs = append(creatorIDs, c.CreatorID)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	users := map[string]models.UserSummary{}
	if list, err := s.Directory.BulkUsers(sctx, userIDs); err != nil {
		s.Logger.Warn("populate participants failed", "error", err)
	} else {
		for _, u := range list {
			users[u.ID] = u
		}
	}
	creators := map[string]models.Creator{}
	if list, err := s.Directory.BulkCreators(sctx, creatorIDs); err != nil {
		s.Logger.Warn("populate creators failed", "error", err)
	} else {
		for _, c := range list {
			creators[c.ID] = c
		}
	}

	views := make([]models.ChatView, 0, len(chats))
	for _, c := range chats {
		view := models.ChatView{Chat: c, Participants: make([]models.ParticipantView, 0, len(c.Participants))}
		for _, p := range c.Participants {
			pv := models.ParticipantView{Participant: p}
			if u, ok := users[p.UserID]; ok {
				pv.User = &u
			}
			if s.Presence != nil {
				pv.IsOnline = s.Presence.IsOnline(p.UserID)
			}
			view.Participants = append(view.Participants, pv)
		}
		if cr, ok := creators[c.CreatorID]; ok {
			view.Creator = &cr
		}
		views = append(views, view)
	}
	return views
}

// populateMessages attaches sender profiles and quoted reply targets.
func (s *ChatService) populateMessages(ctx context.Context, msgs []models.Message) []models.MessageView {
	var senderIDs, replyIDs []string
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
		if m.ReplyTo != "" {
			replyIDs = append(replyIDs, m.ReplyTo)
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	senders := map[string]models.UserSummary{}
	if list, err := s.Directory.BulkUsers(sctx, senderIDs); err != nil {
		s.Logger.Warn("populate senders failed", "error", err)
	} else {
		for _, u := range list {
			// Senders expose only id, name and picture.
			senders[u.ID] = models.UserSummary{ID: u.ID, Name: u.Name, ProfileImage: u.ProfileImage}
		}
	}
	replies := map[string]models.ReplySummary{}
	if len(replyIDs) > 0 {
		if list, err := s.Messages.GetMessages(sctx, replyIDs); err != nil {
			s.Logger.Warn("populate replies failed", "error", err)
		} else {
			for _, r := range list {
				replies[r.ID] = models.ReplySummary{ID: r.ID, Content: r.Content, SenderID: r.SenderID, Type: r.Type}
			}
		}
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := models.MessageView{Message: m}
		if u, ok := senders[m.SenderID]; ok {
			view.Sender = &u
		}
		if r, ok := replies[m.ReplyTo]; ok && m.ReplyTo != "" {
			view.ReplyToEntry = &r
		}
		views = append(views, view)
	}
	return views
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fyzo-chat/internal/models"
	"fyzo-chat/internal/observability"
	"fyzo-chat/internal/repositories"
)

var tracer = otel.Tracer("fyzo-chat/internal/service")

// ChatService is the message pipeline: it validates, persists, keeps chat
// summaries current and hands events to the broadcaster.
type ChatService struct {
	Chats        repositories.ChatRepository
	Messages     repositories.MessageRepository
	Directory    repositories.Directory
	Broadcast    Broadcaster
	Presence     Presence
	Events       EventPublisher
	Logger       *slog.Logger
	StoreTimeout time.Duration
	Now          func() time.Time
}

// NewChatService builds a ChatService over one store backend.
func NewChatService(store repositories.Store, broadcast Broadcaster, presence Presence, events EventPublisher, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		Chats:        store.Chats,
		Messages:     store.Messages,
		Directory:    store.Directory,
		Broadcast:    broadcast,
		Presence:     presence,
		Events:       events,
		Logger:       logger,
		StoreTimeout: 5 * time.Second,
		Now:          time.Now,
	}
}

func (s *ChatService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}

func (s *ChatService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func startSpan(ctx context.Context, name string, actor Actor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("chat.actor_id", actor.UserID))
	return tracer.Start(ctx, "ChatService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, MessageOf(err))
	}
	span.End()
}

// participantChat loads the chat and checks that actor belongs to it.
func (s *ChatService) participantChat(ctx context.Context, actor Actor, chatID string) (models.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return models.Chat{}, newError(KindBadRequest, "Chat ID is required", nil)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	chat, err := s.Chats.GetChat(sctx, chatID)
	if err != nil {
		return models.Chat{}, storeError(err, "Failed to load chat")
	}
	if !chat.IsParticipant(actor.UserID) {
		return models.Chat{}, newError(KindForbidden, "Access denied", nil)
	}
	return chat, nil
}

// GetOrCreateChat returns the actor's chat with creatorID, creating it on first contact.
// The boolean reports whether a new chat was created.
func (s *ChatService) GetOrCreateChat(ctx context.Context, actor Actor, creatorID string) (view models.ChatView, created bool, err error) {
	ctx, span := startSpan(ctx, "GetOrCreateChat", actor, attribute.String("chat.creator_id", creatorID))
	defer func() { endSpan(span, err) }()

	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return models.ChatView{}, false, newError(KindBadRequest, "Creator ID is required", nil)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	creator, err := s.Directory.GetCreator(sctx, creatorID)
	if err != nil {
		return models.ChatView{}, false, storeError(err, "Failed to load creator")
	}
	if creator.UserID == actor.UserID {
		return models.ChatView{}, false, newError(KindBadRequest, "Cannot create chat with yourself", nil)
	}

	chat, err := s.Chats.FindByPair(sctx, creatorID, actor.UserID)
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrChatNotFound):
		chat, err = s.Chats.CreateChat(sctx, models.NewChat(creatorID, actor.UserID, creator.UserID, s.now()))
		if errors.Is(err, repositories.ErrDuplicateChat) {
			// Lost a creation race; the winner's chat is the one to return.
			chat, err = s.Chats.FindByPair(sctx, creatorID, actor.UserID)
		} else if err == nil {
			created = true
		}
		if err != nil {
			return models.ChatView{}, false, storeError(err, "Failed to create chat")
		}
	default:
		return models.ChatView{}, false, storeError(err, "Failed to load chat")
	}

	if created {
		s.Logger.Info("chat created", "chat_id", chat.ID, "creator_id", creatorID, "user_id", actor.UserID)
		s.publish(ctx, "chat.created", chat.ID, actor.UserID, map[string]any{
			"creatorId":    creatorID,
			"participants": chat.ParticipantIDs(),
		})
	}

	views := s.populateChats(ctx, []models.Chat{chat})
	return views[0], created, nil
}

// ListChats returns a page of the actor's active chats, most recent first.
func (s *ChatService) ListChats(ctx context.Context, actor Actor, page Page) (views []models.ChatView, p models.Pagination, err error) {
	ctx, span := startSpan(ctx, "ListChats", actor)
	defer func() { endSpan(span, err) }()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	chats, total, err := s.Chats.ListChats(sctx, actor.UserID, page.Skip(), page.Limit)
	if err != nil {
		return nil, models.Pagination{}, storeError(err, "Failed to fetch chats")
	}
	return s.populateChats(ctx, chats), models.NewPagination(page.Page, page.Limit, total), nil
}

// GetChat returns one chat the actor participates in.
func (s *ChatService) GetChat(ctx context.Context, actor Actor, chatID string) (view models.ChatView, err error) {
	ctx, span := startSpan(ctx, "GetChat", actor, attribute.String("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return models.ChatView{}, err
	}
	return s.populateChats(ctx, []models.Chat{chat})[0], nil
}

// AuthorizeRoom checks that actor may subscribe to the chat's live events.
func (s *ChatService) AuthorizeRoom(ctx context.Context, actor Actor, chatID string) error {
	_, err := s.participantChat(ctx, actor, chatID)
	return err
}

// ChatIDsFor lists every chat the user participates in.
func (s *ChatService) ChatIDsFor(ctx context.Context, userID string) ([]string, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ids, err := s.Chats.ListChatIDs(sctx, userID)
	if err != nil {
		return nil, storeError(err, "Failed to list chats")
	}
	return ids, nil
}

// SendMessage persists a message from actor and fans it out to the room.
func (s *ChatService) SendMessage(ctx context.Context, actor Actor, chatID string, in SendMessageInput) (view models.MessageView, err error) {
	ctx, span := startSpan(ctx, "SendMessage", actor, attribute.String("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return models.MessageView{}, err
	}
	if chat.IsBlocked {
		return models.MessageView{}, newError(KindForbidden, "This chat has been blocked", nil)
	}

	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if err := models.ValidateContent(in.Type, in.Content, in.MediaURL); err != nil {
		return models.MessageView{}, storeError(err, "Invalid message")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if in.ReplyTo != "" {
		if _, err := s.Messages.GetMessage(sctx, chat.ID, in.ReplyTo); err != nil {
			if errors.Is(err, repositories.ErrMessageNotFound) || errors.Is(err, repositories.ErrInvalidID) {
				return models.MessageView{}, newError(KindBadRequest, "Reply target not found in this chat", err)
			}
			return models.MessageView{}, storeError(err, "Failed to load reply target")
		}
	}

	sender, _ := chat.Participant(actor.UserID)
	now := s.now()
	msg, err := s.Messages.CreateMessage(sctx, models.Message{
		ChatID:        chat.ID,
		SenderID:      actor.UserID,
		SenderRole:    sender.Role,
		Content:       in.Content,
		Type:          in.Type,
		MediaURL:      in.MediaURL,
		MediaMetadata: in.MediaMetadata,
		ReadBy:        []models.ReadReceipt{{UserID: actor.UserID, ReadAt: now}},
		ReplyTo:       in.ReplyTo,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return models.MessageView{}, storeError(err, "Failed to send message")
	}
	observability.IncMessageSent(string(msg.Type))

	recipientID := ""
	if other := chat.OtherParticipant(actor.UserID); other != nil {
		recipientID = other.UserID
	}
	if err := s.Chats.RecordMessage(sctx, chat.ID, msg.Snapshot(), recipientID); err != nil {
		// The message is stored; the summary heals on the next send or read.
		s.Logger.Error("chat summary update failed", "chat_id", chat.ID, "message_id", msg.ID, "error", err)
	}

	view = s.populateMessages(ctx, []models.Message{msg})[0]
	s.Broadcast.ToRoom(ctx, chat.ID, models.EventMessageNew, view, actor.ConnID)
	s.publish(ctx, "chat.message.created", chat.ID, actor.UserID, map[string]any{
		"messageId":   msg.ID,
		"type":        msg.Type,
		"recipientId": recipientID,
	})
	return view, nil
}

// AnnounceMessage re-broadcasts an already persisted message sent by actor.
func (s *ChatService) AnnounceMessage(ctx context.Context, actor Actor, chatID, messageID string) (view models.MessageView, err error) {
	ctx, span := startSpan(ctx, "AnnounceMessage", actor, attribute.String("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return models.MessageView{}, err
	}
	if strings.TrimSpace(messageID) == "" {
		return models.MessageView{}, newError(KindBadRequest, "Message ID is required", nil)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	msg, err := s.Messages.GetMessage(sctx, chat.ID, messageID)
	if err != nil {
		return models.MessageView{}, storeError(err, "Failed to load message")
	}
	if msg.SenderID != actor.UserID {
		return models.MessageView{}, newError(KindForbidden, "You can only announce your own messages", nil)
	}

	view = s.populateMessages(ctx, []models.Message{msg})[0]
	s.Broadcast.ToRoom(ctx, chat.ID, models.EventMessageNew, view, actor.ConnID)
	return view, nil
}

// GetMessages returns a page of messages in chronological order. Every returned
// message the actor had not read is marked read and the actor's unread count resets.
func (s *ChatService) GetMessages(ctx context.Context, actor Actor, chatID string, page Page) (views []models.MessageView, p models.Pagination, err error) {
	ctx, span := startSpan(ctx, "GetMessages", actor, attribute.String("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return nil, models.Pagination{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	msgs, total, err := s.Messages.ListForUser(sctx, chat.ID, actor.UserID, page.Skip(), page.Limit)
	if err != nil {
		return nil, models.Pagination{}, storeError(err, "Failed to fetch messages")
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	var unread []string
	for _, m := range msgs {
		if !m.IsReadBy(actor.UserID) {
			unread = append(unread, m.ID)
		}
	}
	now := s.now()
	if len(unread) > 0 {
		marked, err := s.Messages.MarkRead(sctx, chat.ID, unread, actor.UserID, now)
		if err != nil {
			return nil, models.Pagination{}, storeError(err, "Failed to mark messages as read")
		}
		for i := range msgs {
			msgs[i].MarkAsRead(actor.UserID, now)
		}
		s.announceRead(ctx, actor, chat.ID, marked, now)
	}
	if err := s.Chats.ResetUnread(sctx, chat.ID, actor.UserID); err != nil {
		return nil, models.Pagination{}, storeError(err, "Failed to reset unread count")
	}

	return s.populateMessages(ctx, msgs), models.NewPagination(page.Page, page.Limit, total), nil
}

// MarkRead records receipts for the listed messages and resets the actor's unread count.
func (s *ChatService) MarkRead(ctx context.Context, actor Actor, chatID string, messageIDs []string) (event models.ReadEvent, err error) {
	ctx, span := startSpan(ctx, "MarkRead", actor, attribute.String("chat.id", chatID), attribute.Int("chat.message_count", len(messageIDs)))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return models.ReadEvent{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	now := s.now()
	var marked []string
	if len(messageIDs) > 0 {
		marked, err = s.Messages.MarkRead(sctx, chat.ID, messageIDs, actor.UserID, now)
		if err != nil {
			return models.ReadEvent{}, storeError(err, "Failed to mark messages as read")
		}
	}
	if err := s.Chats.ResetUnread(sctx, chat.ID, actor.UserID); err != nil {
		return models.ReadEvent{}, storeError(err, "Failed to reset unread count")
	}

	if marked == nil {
		marked = []string{}
	}
	event = models.ReadEvent{ChatID: chat.ID, UserID: actor.UserID, MessageIDs: marked, ReadAt: now}
	s.announceRead(ctx, actor, chat.ID, marked, now)
	return event, nil
}

func (s *ChatService) announceRead(ctx context.Context, actor Actor, chatID string, marked []string, at time.Time) {
	if len(marked) == 0 {
		return
	}
	event := models.ReadEvent{ChatID: chatID, UserID: actor.UserID, MessageIDs: marked, ReadAt: at}
	s.Broadcast.ToRoom(ctx, chatID, models.EventMessageRead, event, actor.ConnID)
	s.publish(ctx, "chat.message.read", chatID, actor.UserID, map[string]any{"messageIds": marked})
}

// DeleteMessage hides a message for the actor, or tombstones it for everyone
// when forEveryone is set and the actor sent it.
func (s *ChatService) DeleteMessage(ctx context.Context, actor Actor, chatID, messageID string, forEveryone bool) (event models.DeleteEvent, err error) {
	ctx, span := startSpan(ctx, "DeleteMessage", actor, attribute.String("chat.id", chatID), attribute.Bool("chat.for_everyone", forEveryone))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return models.DeleteEvent{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	msg, err := s.Messages.GetMessage(sctx, chat.ID, messageID)
	if err != nil {
		return models.DeleteEvent{}, storeError(err, "Failed to load message")
	}

	event = models.DeleteEvent{ChatID: chat.ID, MessageID: msg.ID, UserID: actor.UserID, ForEveryone: forEveryone}
	if forEveryone {
		if msg.SenderID != actor.UserID {
			return models.DeleteEvent{}, newError(KindForbidden, "You can only delete your own messages for everyone", nil)
		}
		if !msg.IsDeleted {
			if err := s.Messages.Tombstone(sctx, chat.ID, msg.ID); err != nil {
				return models.DeleteEvent{}, storeError(err, "Failed to delete message")
			}
		}
		event.Content = models.TombstoneContent
	} else if !msg.IsHiddenFor(actor.UserID) {
		if err := s.Messages.HideForUser(sctx, chat.ID, msg.ID, actor.UserID); err != nil {
			return models.DeleteEvent{}, storeError(err, "Failed to delete message")
		}
	}

	s.Broadcast.ToRoom(ctx, chat.ID, models.EventMessageDelete, event, actor.ConnID)
	s.publish(ctx, "chat.message.deleted", chat.ID, actor.UserID, map[string]any{
		"messageId":   msg.ID,
		"forEveryone": forEveryone,
	})
	return event, nil
}

// ToggleBlock flips the chat's blocked flag. Only the participant who blocked
// a chat can unblock it.
func (s *ChatService) ToggleBlock(ctx context.Context, actor Actor, chatID string) (blocked bool, err error) {
	ctx, span := startSpan(ctx, "ToggleBlock", actor, attribute.String("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return false, err
	}
	if chat.IsBlocked && chat.BlockedBy != "" && chat.BlockedBy != actor.UserID {
		return true, newError(KindForbidden, "Only the participant who blocked this chat can unblock it", nil)
	}

	blocked = !chat.IsBlocked
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.Chats.SetBlocked(sctx, chat.ID, blocked, actor.UserID); err != nil {
		return chat.IsBlocked, storeError(err, "Failed to toggle block status")
	}

	key := "chat.unblocked"
	if blocked {
		key = "chat.blocked"
	}
	s.Logger.Info("chat block toggled", "chat_id", chat.ID, "user_id", actor.UserID, "blocked", blocked)
	s.publish(ctx, key, chat.ID, actor.UserID, nil)
	return blocked, nil
}

// UnreadCount sums the actor's unread messages across active chats.
func (s *ChatService) UnreadCount(ctx context.Context, actor Actor) (int, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	total, err := s.Chats.UnreadTotal(sctx, actor.UserID)
	if err != nil {
		return 0, storeError(err, "Failed to fetch unread count")
	}
	return total, nil
}

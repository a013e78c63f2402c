package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/marketlive/internal/clientstate"
	apperrors "github.com/charlesng35/marketlive/pkg/errors"
	"github.com/charlesng35/marketlive/pkg/logger"
	"github.com/charlesng35/marketlive/pkg/metrics"
	"github.com/charlesng35/marketlive/pkg/validator"
)

const (
	defaultMaxLength       = 2000
	defaultPageSize        = 50
	defaultSendDestination = "/app/send"
)

// API is the backend surface used by the session.
type API interface {
	ListConversations(ctx context.Context) ([]json.RawMessage, error)
	ListMessages(ctx context.Context, conversationID string, page, size int) ([]json.RawMessage, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	UploadChatFile(ctx context.Context, name string, content io.Reader) (string, error)
	RecallMessage(ctx context.Context, messageID string) error
	SendMessage(ctx context.Context, message any) (json.RawMessage, error)
}

// Publisher pushes payloads over the realtime transport.
type Publisher interface {
	Send(destination string, body []byte, headers map[string]string) error
}

// IdentitySource resolves the signed-in user.
type IdentitySource interface {
	Identity(ctx context.Context) (*clientstate.Identity, error)
}

// Event kinds emitted to subscribers.
const (
	EventConversations = "chat.conversations"
	EventMessage       = "chat.message"
	EventHistory       = "chat.history"
	EventRead          = "chat.read"
	EventCleared       = "chat.cleared"
)

// Event describes a session change.
type Event struct {
	Kind           string        `json:"event"`
	ConversationID string        `json:"conversationId,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Message        *Message      `json:"message,omitempty"`
}

// SendRequest is the validated input for SendText.
type SendRequest struct {
	ConversationID string `json:"conversationId" validate:"required,notblank"`
	Type           string `json:"type" validate:"oneof=text image video file"`
	Content        string `json:"content" validate:"required_if=Type text"`
}

// Session holds conversations and per-conversation message lists with optimistic send.
type Session struct {
	api             API
	publisher       Publisher
	identity        IdentitySource
	sendDestination string
	maxLength       int
	pageSize        int
	now             func() time.Time
	log             *zap.Logger

	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[string][]Message

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// Option customises the Session.
type Option func(*Session)

// WithPublisher sets the realtime transport used for sending.
func WithPublisher(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithSendDestination overrides the STOMP destination for outgoing messages.
func WithSendDestination(destination string) Option {
	return func(s *Session) {
		if strings.TrimSpace(destination) != "" {
			s.sendDestination = destination
		}
	}
}

// WithMaxLength sets the maximum message length in characters.
func WithMaxLength(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxLength = n
		}
	}
}

// WithPageSize sets the history page size.
func WithPageSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides the clock used for optimistic entries.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSession constructs an empty Session.
func NewSession(api API, identity IdentitySource, opts ...Option) (*Session, error) {
	if api == nil {
		return nil, errors.New("chat: api is required")
	}
	if identity == nil {
		return nil, errors.New("chat: identity source is required")
	}
	s := &Session{
		api:             api,
		identity:        identity,
		sendDestination: defaultSendDestination,
		maxLength:       defaultMaxLength,
		pageSize:        defaultPageSize,
		now:             time.Now,
		log:             logger.WithModule("chat"),
		conversations:   make(map[string]*Conversation),
		messages:        make(map[string][]Message),
		subs:            make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetPublisher swaps the realtime transport, for example once it has connected.
func (s *Session) SetPublisher(p Publisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

// LoadConversations fetches the inbox and merges it into local state; server data wins.
func (s *Session) LoadConversations(ctx context.Context) error {
	raw, err := s.api.ListConversations(ctx)
	if err != nil {
		s.log.Warn("load conversations failed", zap.Error(err))
		return err
	}
	me := s.me(ctx)

	s.mu.Lock()
	for _, item := range raw {
		conv, err := DecodeConversation(item)
		if err != nil {
			s.log.Warn("skipping undecodable conversation", zap.Error(err))
			continue
		}
		resolveCounterpart(&conv, me)
		stored := conv
		s.conversations[conv.ID] = &stored
	}
	s.mu.Unlock()

	s.publish(Event{Kind: EventConversations})
	return nil
}

// Open fetches the latest history page for a conversation, keeping local entries that the
// server has not confirmed yet.
func (s *Session) Open(ctx context.Context, conversationID string) ([]Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, apperrors.NewBadRequest("conversation id is required")
	}

	raw, err := s.api.ListMessages(ctx, conversationID, 0, s.pageSize)
	if err != nil {
		s.log.Warn("load history failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}

	now := s.now()
	history := make([]Message, 0, len(raw))
	for _, item := range raw {
		msg, err := DecodeMessage(item, now)
		if err != nil {
			s.log.Warn("skipping undecodable message", zap.Error(err))
			continue
		}
		msg.ConversationID = conversationID
		history = append(history, msg)
	}

	s.mu.Lock()
	merged := history
	for _, local := range s.messages[conversationID] {
		if local.Pending || local.Failed {
			merged = mergeMessage(merged, local, false)
		}
	}
	sortMessages(merged)
	s.messages[conversationID] = merged
	s.ensureConversationLocked(conversationID)
	out := append([]Message(nil), merged...)
	s.mu.Unlock()

	s.publish(Event{Kind: EventHistory, ConversationID: conversationID})
	return out, nil
}

// SendText validates and sends a text message optimistically.
func (s *Session) SendText(ctx context.Context, conversationID, text string) (Message, error) {
	req := SendRequest{ConversationID: conversationID, Type: TypeText, Content: strings.TrimSpace(text)}
	if err := s.validate(req); err != nil {
		metrics.ChatMessagesSent.WithLabelValues(TypeText, "invalid").Inc()
		return Message{}, err
	}

	me := s.me(ctx)
	if me == nil || me.ID == "" {
		return Message{}, apperrors.ErrUnauthorized
	}

	msg := s.appendOptimistic(strings.TrimSpace(conversationID), me.ID, TypeText, req.Content, "")
	return s.dispatch(ctx, msg)
}

// SendFile appends a placeholder, uploads the attachment, stores the returned URL on the
// placeholder and then publishes the message.
func (s *Session) SendFile(ctx context.Context, conversationID, messageType, name string, content io.Reader) (Message, error) {
	messageType = normalizeType(messageType)
	req := SendRequest{ConversationID: conversationID, Type: messageType, Content: name}
	if err := s.validate(req); err != nil {
		metrics.ChatMessagesSent.WithLabelValues(messageType, "invalid").Inc()
		return Message{}, err
	}
	if messageType == TypeText {
		return Message{}, validator.ValidationErrors{{Field: "type", Tag: "oneof", Param: "image video file"}}
	}

	me := s.me(ctx)
	if me == nil || me.ID == "" {
		return Message{}, apperrors.ErrUnauthorized
	}

	msg := s.appendOptimistic(strings.TrimSpace(conversationID), me.ID, messageType, name, "")

	url, err := s.api.UploadChatFile(ctx, name, content)
	if err != nil {
		metrics.ChatMessagesSent.WithLabelValues(messageType, "upload_failed").Inc()
		failed := s.updateLocal(msg.ConversationID, msg.ClientMessageID, func(m *Message) {
			m.Pending = false
			m.Failed = true
		})
		return failed, err
	}

	msg = s.updateLocal(msg.ConversationID, msg.ClientMessageID, func(m *Message) {
		m.FileURL = url
	})
	return s.dispatch(ctx, msg)
}

// Recall withdraws one of the caller's messages.
func (s *Session) Recall(ctx context.Context, conversationID, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return apperrors.NewBadRequest("message id is required")
	}
	if strings.HasPrefix(messageID, "local-") {
		return apperrors.NewBadRequest("message has not been delivered yet")
	}

	if err := s.api.RecallMessage(ctx, messageID); err != nil {
		s.log.Warn("recall failed", zap.String("message_id", messageID), zap.Error(err))
		return err
	}

	s.mu.Lock()
	var recalled *Message
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID == messageID {
			list[i].Type = TypeRecall
			list[i].Content = ""
			list[i].FileURL = ""
			cp := list[i]
			recalled = &cp
			if i == len(list)-1 {
				if conv, ok := s.conversations[conversationID]; ok {
					conv.LastMessage = preview(TypeRecall, "")
				}
			}
			break
		}
	}
	s.mu.Unlock()

	if recalled != nil {
		s.publish(Event{Kind: EventMessage, ConversationID: conversationID, Message: recalled})
	}
	return nil
}

// HandlePush merges a message delivered over the realtime transport. Entries are matched
// by server id, then by client message id, so an echo of an optimistic send replaces the
// placeholder. Only genuinely new messages bump the recipient's unread counter.
func (s *Session) HandlePush(ctx context.Context, body []byte) error {
	msg, err := DecodeMessage(body, s.now())
	if err != nil {
		s.log.Warn("discarding undecodable chat push", zap.Error(err))
		return err
	}
	msg.Pending = false
	msg.Failed = false
	me := s.me(ctx)

	s.mu.Lock()
	list := s.messages[msg.ConversationID]
	isNew := indexOf(list, msg) < 0
	list = mergeMessage(list, msg, true)
	sortMessages(list)
	s.messages[msg.ConversationID] = list

	conv := s.ensureConversationLocked(msg.ConversationID)
	if conv.BuyerID == "" && conv.SellerID == "" && me != nil {
		assignParticipants(conv, me, msg.SenderID)
	}
	if !msg.SentAt.Before(conv.LastMessageAt) {
		conv.LastMessage = preview(msg.Type, msg.Content)
		conv.LastMessageAt = msg.SentAt
	}
	if isNew && msg.Type != TypeRecall {
		switch {
		case msg.SenderID != "" && msg.SenderID == conv.SellerID:
			conv.BuyerUnread++
		case msg.SenderID != "" && msg.SenderID == conv.BuyerID:
			conv.SellerUnread++
		case me != nil && msg.SenderID != me.ID:
			if ownSideIsSeller(conv, me) {
				conv.SellerUnread++
			} else {
				conv.BuyerUnread++
			}
		}
	}
	convCopy := *conv
	s.mu.Unlock()

	s.publish(Event{Kind: EventMessage, ConversationID: msg.ConversationID, Conversation: &convCopy, Message: &msg})
	return nil
}

// MarkRead zeroes the caller's unread counter locally, then confirms with the server. On
// failure the conversation list is refetched.
func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return apperrors.NewBadRequest("conversation id is required")
	}
	me := s.me(ctx)

	s.mu.Lock()
	var convCopy *Conversation
	if conv, ok := s.conversations[conversationID]; ok {
		if ownSideIsSeller(conv, me) {
			conv.SellerUnread = 0
		} else {
			conv.BuyerUnread = 0
		}
		cp := *conv
		convCopy = &cp
	}
	s.mu.Unlock()

	if convCopy != nil {
		s.publish(Event{Kind: EventRead, ConversationID: conversationID, Conversation: convCopy})
	}

	if err := s.api.MarkConversationRead(ctx, conversationID); err != nil {
		s.log.Warn("mark conversation read failed, refetching", zap.String("conversation_id", conversationID), zap.Error(err))
		if reloadErr := s.LoadConversations(ctx); reloadErr != nil {
			s.log.Warn("refetch conversations failed", zap.Error(reloadErr))
		}
		return err
	}
	return nil
}

// Conversations returns the inbox ordered by most recent activity.
func (s *Session) Conversations() []Conversation {
	s.mu.Lock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, *conv)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Conversation returns a single conversation.
func (s *Session) Conversation(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// Messages returns the cached messages of a conversation, oldest first.
func (s *Session) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[conversationID]...)
}

// UnreadTotal sums the caller's side of every conversation.
func (s *Session) UnreadTotal(ctx context.Context) int {
	me := s.me(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, conv := range s.conversations {
		if ownSideIsSeller(conv, me) {
			total += conv.SellerUnread
		} else {
			total += conv.BuyerUnread
		}
	}
	return total
}

// Reset drops all cached state, used when the session ends.
func (s *Session) Reset() {
	s.mu.Lock()
	s.conversations = make(map[string]*Conversation)
	s.messages = make(map[string][]Message)
	s.mu.Unlock()
	s.publish(Event{Kind: EventCleared})
}

// Subscribe registers fn for change events and returns a function that removes it.
func (s *Session) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) publish(event Event) {
	s.subMu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (s *Session) validate(req SendRequest) error {
	if err := validator.ValidateStruct(req); err != nil {
		return err
	}
	if utf8.RuneCountInString(req.Content) > s.maxLength {
		return validator.ValidationErrors{{Field: "content", Tag: "max", Param: strconv.Itoa(s.maxLength)}}
	}
	return nil
}

func (s *Session) me(ctx context.Context) *clientstate.Identity {
	identity, err := s.identity.Identity(ctx)
	if err != nil {
		s.log.Debug("identity unavailable", zap.Error(err))
		return nil
	}
	return identity
}

func (s *Session) appendOptimistic(conversationID, senderID, messageType, content, fileURL string) Message {
	now := s.now()
	clientID := uuid.NewString()
	msg := Message{
		ID:              fmt.Sprintf("local-%d-%s", now.UnixMilli(), clientID[:8]),
		ClientMessageID: clientID,
		ConversationID:  conversationID,
		SenderID:        senderID,
		Type:            messageType,
		Content:         content,
		FileURL:         fileURL,
		SentAt:          now.UTC(),
		Pending:         true,
	}

	s.mu.Lock()
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv := s.ensureConversationLocked(conversationID)
	conv.LastMessage = preview(messageType, content)
	conv.LastMessageAt = msg.SentAt
	convCopy := *conv
	s.mu.Unlock()

	s.publish(Event{Kind: EventMessage, ConversationID: conversationID, Conversation: &convCopy, Message: &msg})
	return msg
}

// dispatch publishes over the transport; when the transport is unavailable it falls back to
// the REST endpoint and merges the server's copy.
func (s *Session) dispatch(ctx context.Context, msg Message) (Message, error) {
	body, err := json.Marshal(outbound{
		ConversationID:  msg.ConversationID,
		ClientMessageID: msg.ClientMessageID,
		SenderID:        msg.SenderID,
		Type:            msg.Type,
		Content:         msg.Content,
		FileURL:         msg.FileURL,
	})
	if err != nil {
		return msg, fmt.Errorf("chat: encode message: %w", err)
	}

	s.mu.Lock()
	publisher := s.publisher
	s.mu.Unlock()

	if publisher != nil {
		sendErr := publisher.Send(s.sendDestination, body, map[string]string{"client-message-id": msg.ClientMessageID})
		if sendErr == nil {
			metrics.ChatMessagesSent.WithLabelValues(msg.Type, "published").Inc()
			return msg, nil
		}
		s.log.Info("realtime send unavailable, using REST", zap.Error(sendErr))
	}

	raw, err := s.api.SendMessage(ctx, json.RawMessage(body))
	if err != nil {
		metrics.ChatMessagesSent.WithLabelValues(msg.Type, "failed").Inc()
		failed := s.updateLocal(msg.ConversationID, msg.ClientMessageID, func(m *Message) {
			m.Pending = false
			m.Failed = true
		})
		return failed, err
	}
	metrics.ChatMessagesSent.WithLabelValues(msg.Type, "rest").Inc()

	confirmed, decodeErr := DecodeMessage(raw, s.now())
	if decodeErr != nil || confirmed.ID == "" {
		return s.updateLocal(msg.ConversationID, msg.ClientMessageID, func(m *Message) {
			m.Pending = false
		}), nil
	}
	if confirmed.ClientMessageID == "" {
		confirmed.ClientMessageID = msg.ClientMessageID
	}
	if err := s.HandlePush(ctx, mustJSON(confirmed)); err != nil {
		return msg, nil
	}
	for _, m := range s.Messages(msg.ConversationID) {
		if m.ClientMessageID == msg.ClientMessageID {
			return m, nil
		}
	}
	return confirmed, nil
}

func (s *Session) updateLocal(conversationID, clientID string, mutate func(*Message)) Message {
	s.mu.Lock()
	var out Message
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ClientMessageID == clientID {
			mutate(&list[i])
			out = list[i]
			break
		}
	}
	s.mu.Unlock()

	if out.ID != "" {
		s.publish(Event{Kind: EventMessage, ConversationID: conversationID, Message: &out})
	}
	return out
}

func (s *Session) ensureConversationLocked(conversationID string) *Conversation {
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID}
		s.conversations[conversationID] = conv
	}
	return conv
}

func mustJSON(msg Message) []byte {
	data, _ := json.Marshal(msg)
	return data
}

func indexOf(list []Message, msg Message) int {
	for i := range list {
		if msg.ID != "" && list[i].ID == msg.ID {
			return i
		}
	}
	if msg.ClientMessageID != "" {
		for i := range list {
			if list[i].ClientMessageID == msg.ClientMessageID {
				return i
			}
		}
	}
	return -1
}

// mergeMessage replaces the matching entry or appends. When replace is false an existing
// match is left untouched.
func mergeMessage(list []Message, msg Message, replace bool) []Message {
	idx := indexOf(list, msg)
	if idx < 0 {
		return append(list, msg)
	}
	if replace {
		if msg.ClientMessageID == "" {
			msg.ClientMessageID = list[idx].ClientMessageID
		}
		list[idx] = msg
	}
	return list
}

func sortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].SentAt.Before(list[j].SentAt)
	})
}

func ownSideIsSeller(conv *Conversation, me *clientstate.Identity) bool {
	if me == nil {
		return false
	}
	switch {
	case me.ID != "" && me.ID == conv.SellerID:
		return true
	case me.ID != "" && me.ID == conv.BuyerID:
		return false
	}
	return me.IsSeller()
}

func assignParticipants(conv *Conversation, me *clientstate.Identity, otherID string) {
	if otherID == me.ID {
		otherID = ""
	}
	if me.IsSeller() {
		conv.SellerID, conv.BuyerID = me.ID, otherID
		return
	}
	conv.BuyerID, conv.SellerID = me.ID, otherID
}

func resolveCounterpart(conv *Conversation, me *clientstate.Identity) {
	if ownSideIsSeller(conv, me) {
		conv.CounterpartName = firstNonEmpty(conv.buyerName, conv.BuyerID)
		conv.CounterpartAvatar = conv.buyerAvatar
		return
	}
	conv.CounterpartName = firstNonEmpty(conv.sellerName, conv.SellerID)
	conv.CounterpartAvatar = conv.sellerAvatar
}

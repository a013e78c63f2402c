package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/marketlive/internal/payload"
)

// Message types.
const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeVideo  = "video"
	TypeFile   = "file"
	TypeRecall = "recall"
)

// Conversation is a buyer/seller thread as listed in the inbox.
type Conversation struct {
	ID                string    `json:"id"`
	BuyerID           string    `json:"buyerId"`
	SellerID          string    `json:"sellerId"`
	CounterpartName   string    `json:"counterpartName"`
	CounterpartAvatar string    `json:"counterpartAvatar,omitempty"`
	LastMessage       string    `json:"lastMessage"`
	LastMessageAt     time.Time `json:"lastMessageAt"`
	BuyerUnread       int       `json:"buyerUnread"`
	SellerUnread      int       `json:"sellerUnread"`

	buyerName    string
	buyerAvatar  string
	sellerName   string
	sellerAvatar string
}

// Message is one chat entry. Pending marks an optimistic entry not yet confirmed by the server.
type Message struct {
	ID              string    `json:"id"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	ConversationID  string    `json:"conversationId"`
	SenderID        string    `json:"senderId"`
	Type            string    `json:"type"`
	Content         string    `json:"content,omitempty"`
	FileURL         string    `json:"fileUrl,omitempty"`
	SentAt          time.Time `json:"sentAt"`
	Pending         bool      `json:"pending,omitempty"`
	Failed          bool      `json:"failed,omitempty"`
}

// outbound is the payload published to the send destination.
type outbound struct {
	ConversationID  string `json:"conversationId"`
	ClientMessageID string `json:"clientMessageId"`
	SenderID        string `json:"senderId,omitempty"`
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	FileURL         string `json:"fileUrl,omitempty"`
}

func normalizeType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text", "message":
		return TypeText
	case "image", "img", "photo":
		return TypeImage
	case "video":
		return TypeVideo
	case "file", "attachment", "document":
		return TypeFile
	case "recall", "recalled":
		return TypeRecall
	}
	return strings.ToLower(strings.TrimSpace(value))
}

// DecodeMessage reads a message from REST history or a push frame.
func DecodeMessage(raw []byte, now time.Time) (Message, error) {
	fields, err := payload.Parse(raw)
	if err != nil {
		return Message{}, fmt.Errorf("chat: %w", err)
	}
	if fields.String("id", "messageId", "content", "conversationId") == "" {
		if nested, ok := fields.Object("message", "payload", "data"); ok {
			fields = nested
		}
	}

	msg := Message{
		ID:              fields.String("id", "messageId", "message_id"),
		ClientMessageID: fields.String("clientMessageId", "client_message_id", "clientId"),
		ConversationID:  fields.String("conversationId", "conversation_id", "roomId"),
		SenderID:        fields.String("senderId", "sender_id", "fromUserId", "from"),
		Type:            normalizeType(fields.String("type", "messageType", "message_type")),
		Content:         fields.String("content", "message", "text"),
		FileURL:         fields.String("fileUrl", "file_url", "attachmentUrl", "mediaUrl", "url"),
	}
	if msg.ConversationID == "" {
		if conv, ok := fields.Object("conversation"); ok {
			msg.ConversationID = conv.String("id", "conversationId")
		}
	}
	if msg.SenderID == "" {
		if sender, ok := fields.Object("sender"); ok {
			msg.SenderID = sender.String("id", "userId")
		}
	}
	if recalled, ok := fields.Bool("recalled", "isRecalled"); ok && recalled {
		msg.Type = TypeRecall
	}
	if msg.Type == TypeRecall {
		msg.Content = ""
		msg.FileURL = ""
	}

	if sentAt, ok := fields.Time("sentAt", "createdAt", "created_at", "timestamp"); ok {
		msg.SentAt = sentAt
	} else {
		msg.SentAt = now.UTC()
	}

	if msg.ConversationID == "" {
		return Message{}, fmt.Errorf("chat: message has no conversation id")
	}
	return msg, nil
}

// DecodeConversation reads a conversation summary.
func DecodeConversation(raw []byte) (Conversation, error) {
	fields, err := payload.Parse(raw)
	if err != nil {
		return Conversation{}, fmt.Errorf("chat: %w", err)
	}

	conv := Conversation{
		ID:          fields.String("id", "conversationId", "conversation_id"),
		BuyerID:     fields.String("buyerId", "buyer_id"),
		SellerID:    fields.String("sellerId", "seller_id", "shopOwnerId"),
		LastMessage: fields.String("lastMessage", "last_message", "lastMessageContent"),
	}
	if conv.ID == "" {
		return Conversation{}, fmt.Errorf("chat: conversation has no id")
	}

	conv.buyerName = fields.String("buyerName", "buyer_name")
	conv.buyerAvatar = fields.String("buyerAvatar", "buyer_avatar")
	conv.sellerName = fields.String("shopName", "sellerName", "seller_name")
	conv.sellerAvatar = fields.String("shopAvatar", "sellerAvatar", "seller_avatar", "shopLogo")
	if buyer, ok := fields.Object("buyer"); ok {
		conv.BuyerID = firstNonEmpty(conv.BuyerID, buyer.String("id", "userId"))
		conv.buyerName = firstNonEmpty(conv.buyerName, buyer.String("fullName", "name", "username"))
		conv.buyerAvatar = firstNonEmpty(conv.buyerAvatar, buyer.String("avatar", "avatarUrl"))
	}
	if seller, ok := fields.Object("seller", "shop"); ok {
		conv.SellerID = firstNonEmpty(conv.SellerID, seller.String("id", "userId", "ownerId"))
		conv.sellerName = firstNonEmpty(conv.sellerName, seller.String("shopName", "name", "fullName"))
		conv.sellerAvatar = firstNonEmpty(conv.sellerAvatar, seller.String("avatar", "logo", "avatarUrl"))
	}

	if last, ok := fields.Object("lastMessage"); ok {
		conv.LastMessage = preview(normalizeType(last.String("type")), last.String("content"))
		if at, ok := last.Time("sentAt", "createdAt"); ok {
			conv.LastMessageAt = at
		}
	}
	if at, ok := fields.Time("lastMessageAt", "last_message_at", "updatedAt"); ok {
		conv.LastMessageAt = at
	}

	if n, ok := fields.Int("buyerUnread", "buyerUnreadCount", "unreadCountBuyer", "buyer_unread"); ok {
		conv.BuyerUnread = clamp(int(n))
	}
	if n, ok := fields.Int("sellerUnread", "sellerUnreadCount", "unreadCountSeller", "seller_unread"); ok {
		conv.SellerUnread = clamp(int(n))
	}

	return conv, nil
}

// Preview texts shown for non-text last messages.
const (
	previewImage  = "[Hình ảnh]"
	previewVideo  = "[Video]"
	previewFile   = "[Tệp đính kèm]"
	previewRecall = "Tin nhắn đã được thu hồi"
)

func preview(messageType, content string) string {
	switch messageType {
	case TypeImage:
		return previewImage
	case TypeVideo:
		return previewVideo
	case TypeFile:
		return previewFile
	case TypeRecall:
		return previewRecall
	}
	return content
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

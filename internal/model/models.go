package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ─── Enums ─────────────────────────────────────────────

// MessageType distinguishes user-authored content from system events.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// JoinedAs records how a participant entered the dialog.
type JoinedAs string

const (
	JoinedAsCreator JoinedAs = "creator"
	JoinedAsDirect  JoinedAs = "direct"
	JoinedAsJoined  JoinedAs = "joined"
)

// UnreadDisplayCap bounds unread_count for display purposes; the
// stored value is the true count, this only caps what's rendered.
const UnreadDisplayCap = 99

// ─── Dialog ────────────────────────────────────────────

// Dialog is a chat permanently bound to an external business object.
// Its own fields are immutable after creation; only its participants
// carry mutable per-user state.
type Dialog struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ObjectType string    `gorm:"size:64;not null;index:idx_dialogs_object,priority:1" json:"object_type"`
	ObjectID   string    `gorm:"size:128;not null;index:idx_dialogs_object,priority:2" json:"object_id"`
	Title      *string   `gorm:"size:255" json:"title"`
	ObjectURL  *string   `gorm:"size:500" json:"object_url"`
	CreatedBy  string    `gorm:"size:128;not null" json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`

	AccessScopes []DialogAccessScope `gorm:"foreignKey:DialogID;constraint:OnDelete:CASCADE" json:"-"`
	Participants []DialogParticipant `gorm:"foreignKey:DialogID;constraint:OnDelete:CASCADE" json:"-"`
	Messages     []Message           `gorm:"foreignKey:DialogID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Dialog) TableName() string { return "dialogs" }

func (d *Dialog) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return nil
}

// DialogResponse is the API shape of a dialog plus computed fields.
type DialogResponse struct {
	ID                string    `json:"id"`
	ObjectType        string    `json:"object_type"`
	ObjectID          string    `json:"object_id"`
	Title             *string   `json:"title"`
	ObjectURL         *string   `json:"object_url"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	ParticipantsCount int64     `json:"participants_count"`
	Relation          string    `json:"relation"` // participant | potential | none
	CanJoin           bool      `json:"can_join"`
}

func (d *Dialog) ToResponse(participantsCount int64, relation string, canJoin bool) DialogResponse {
	return DialogResponse{
		ID:                d.ID,
		ObjectType:        d.ObjectType,
		ObjectID:          d.ObjectID,
		Title:             d.Title,
		ObjectURL:         d.ObjectURL,
		CreatedBy:         d.CreatedBy,
		CreatedAt:         d.CreatedAt,
		ParticipantsCount: participantsCount,
		Relation:          relation,
		CanJoin:           canJoin,
	}
}

// ─── DialogAccessScope ─────────────────────────────────

// DialogAccessScope is one potential-participant rule for a dialog.
type DialogAccessScope struct {
	ID          uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	DialogID    string         `gorm:"size:36;not null;index" json:"dialog_id"`
	TenantUID   string         `gorm:"size:128;not null" json:"tenant_uid"`
	ScopeLevel1 pq.StringArray `gorm:"type:text[]" json:"scope_level1"`
	ScopeLevel2 pq.StringArray `gorm:"type:text[]" json:"scope_level2"`
}

func (DialogAccessScope) TableName() string { return "dialog_access_scopes" }

// ─── DialogParticipant ─────────────────────────────────

// DialogParticipant is the per-user profile snapshot and mutable state
// for one user in one dialog. Unique on (dialog_id, user_id).
type DialogParticipant struct {
	DialogID             string    `gorm:"primaryKey;size:36" json:"dialog_id"`
	UserID               string    `gorm:"primaryKey;size:128" json:"user_id"`
	DisplayName          string    `gorm:"size:255;not null" json:"display_name"`
	Company              *string   `gorm:"size:255" json:"company"`
	Email                *string   `gorm:"size:255" json:"email"`
	Phone                *string   `gorm:"size:64" json:"phone"`
	JoinedAt             time.Time `json:"joined_at"`
	JoinedAs             JoinedAs  `gorm:"size:16;not null" json:"joined_as"`
	NotificationsEnabled bool      `gorm:"not null;default:true" json:"notifications_enabled"`
	LastReadMessageID    *string   `gorm:"size:36" json:"last_read_message_id"`
	UnreadCount          int       `gorm:"not null;default:0" json:"unread_count"`
	IsArchived           bool      `gorm:"not null;default:false" json:"is_archived"`
	IsPinned             bool      `gorm:"not null;default:false" json:"is_pinned"`
}

func (DialogParticipant) TableName() string { return "dialog_participants" }

func (p *DialogParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	return nil
}

// DisplayUnreadCount caps UnreadCount for UI rendering ("99+").
func (p *DialogParticipant) DisplayUnreadCount() string {
	if p.UnreadCount > UnreadDisplayCap {
		return "99+"
	}
	return itoa(p.UnreadCount)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ParticipantResponse is the API shape of a participant row.
type ParticipantResponse struct {
	UserID               string  `json:"user_id"`
	DisplayName          string  `json:"display_name"`
	Company              *string `json:"company"`
	Email                *string `json:"email"`
	Phone                *string `json:"phone"`
	JoinedAt             string  `json:"joined_at"`
	JoinedAs             string  `json:"joined_as"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	LastReadMessageID    *string `json:"last_read_message_id"`
	UnreadCount          int     `json:"unread_count"`
	IsArchived           bool    `json:"is_archived"`
	IsPinned             bool    `json:"is_pinned"`
}

func (p *DialogParticipant) ToResponse() ParticipantResponse {
	return ParticipantResponse{
		UserID:               p.UserID,
		DisplayName:          p.DisplayName,
		Company:              p.Company,
		Email:                p.Email,
		Phone:                p.Phone,
		JoinedAt:             p.JoinedAt.UTC().Format(time.RFC3339),
		JoinedAs:             string(p.JoinedAs),
		NotificationsEnabled: p.NotificationsEnabled,
		LastReadMessageID:    p.LastReadMessageID,
		UnreadCount:          p.UnreadCount,
		IsArchived:           p.IsArchived,
		IsPinned:             p.IsPinned,
	}
}

// ─── Message ───────────────────────────────────────────

// Message belongs to a single dialog. SenderID is nil for system
// messages. Edits preserve ID and SentAt; deletion is logical.
type Message struct {
	ID           string      `gorm:"primaryKey;size:36" json:"id"`
	DialogID     string      `gorm:"size:36;not null;index:idx_messages_cursor,priority:1" json:"dialog_id"`
	SenderID     *string     `gorm:"size:128" json:"sender_id"`
	MessageType  MessageType `gorm:"size:16;not null" json:"message_type"`
	Content      string      `gorm:"type:text;not null" json:"content"`
	SentAt       time.Time   `gorm:"not null;index:idx_messages_cursor,priority:2" json:"sent_at"`
	ReplyToID    *string     `gorm:"size:36" json:"reply_to_id"`
	LastEditedAt *time.Time  `json:"last_edited_at"`
	DeletedAt    *time.Time  `json:"deleted_at"`

	Attachments []Attachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	return nil
}

// IsTombstone reports whether this message has been soft-deleted.
func (m *Message) IsTombstone() bool { return m.DeletedAt != nil }

// MessageResponse is the API shape of a message. Content is null
// for tombstones per spec.
type MessageResponse struct {
	ID           string       `json:"id"`
	DialogID     string       `json:"dialog_id"`
	SenderID     *string      `json:"sender_id"`
	MessageType  string       `json:"message_type"`
	Content      *string      `json:"content"`
	SentAt       time.Time    `json:"sent_at"`
	ReplyToID    *string      `json:"reply_to_id,omitempty"`
	LastEditedAt *time.Time   `json:"last_edited_at,omitempty"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

func (m *Message) ToResponse() MessageResponse {
	resp := MessageResponse{
		ID:           m.ID,
		DialogID:     m.DialogID,
		SenderID:     m.SenderID,
		MessageType:  string(m.MessageType),
		SentAt:       m.SentAt,
		ReplyToID:    m.ReplyToID,
		LastEditedAt: m.LastEditedAt,
		DeletedAt:    m.DeletedAt,
	}
	if !m.IsTombstone() {
		content := m.Content
		resp.Content = &content
		resp.Attachments = m.Attachments
	}
	return resp
}

// ─── MessageEditHistory ────────────────────────────────

// MessageEditHistory is an append-only record of prior message content.
type MessageEditHistory struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID     string    `gorm:"size:36;not null;index" json:"message_id"`
	ContentBefore string    `gorm:"type:text;not null" json:"content_before"`
	EditedAt      time.Time `gorm:"not null" json:"edited_at"`
}

func (MessageEditHistory) TableName() string { return "message_edit_history" }

func (h *MessageEditHistory) BeforeCreate(tx *gorm.DB) error {
	if h.EditedAt.IsZero() {
		h.EditedAt = time.Now().UTC()
	}
	return nil
}

// ─── Attachment ────────────────────────────────────────

// Attachment is metadata for a blob that lives in the external store.
type Attachment struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	MessageID   string `gorm:"size:36;not null;index" json:"message_id"`
	Filename    string `gorm:"size:255;not null" json:"filename"`
	ContentType string `gorm:"size:128;not null" json:"content_type"`
	Size        int64  `gorm:"not null" json:"size"`
	S3Key       string `gorm:"size:512;not null" json:"s3_key"`
	Width       *int   `json:"width,omitempty"`
	Height      *int   `json:"height,omitempty"`
}

func (Attachment) TableName() string { return "attachments" }

func (a *Attachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// ─── AllModels returns all models for auto-migration ───

func AllModels() []interface{} {
	return []interface{}{
		&Dialog{},
		&DialogAccessScope{},
		&DialogParticipant{},
		&Message{},
		&MessageEditHistory{},
		&Attachment{},
	}
}

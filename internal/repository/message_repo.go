package repository

import (
	"time"

	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/model"
	"github.com/mtchat/mtchat/internal/sanitize"
	"gorm.io/gorm"
)

// MessageRepo is the persistence boundary for messages and their
// attachments and edit history.
type MessageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// SendInput describes a new user-authored message.
type SendInput struct {
	DialogID    string
	SenderID    string
	Content     string
	ReplyToID   *string
	Attachments []model.Attachment
}

// Send sanitizes content, validates the reply target (if any) belongs
// to the same dialog and is itself not a reply — replies nest one
// level deep, no deeper — then persists the message and its
// attachments in one transaction.
func (r *MessageRepo) Send(in SendInput) (*model.Message, error) {
	content := sanitize.Sanitize(in.Content)

	if in.ReplyToID != nil {
		var target model.Message
		err := r.db.First(&target, "id = ? AND dialog_id = ?", *in.ReplyToID, in.DialogID).Error
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.Validation("reply_to_id does not reference a message in this dialog")
		}
		if err != nil {
			return nil, apperr.Internal("load reply target", err)
		}
		if target.ReplyToID != nil {
			return nil, apperr.Validation("cannot reply to a reply; replies nest one level deep")
		}
	}

	msg := model.Message{
		DialogID:    in.DialogID,
		SenderID:    &in.SenderID,
		MessageType: model.MessageTypeUser,
		Content:     content,
		ReplyToID:   in.ReplyToID,
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return apperr.Internal("create message", err)
		}
		for i := range in.Attachments {
			in.Attachments[i].MessageID = msg.ID
		}
		if len(in.Attachments) > 0 {
			if err := tx.Create(&in.Attachments).Error; err != nil {
				return apperr.Internal("create attachments", err)
			}
			msg.Attachments = in.Attachments
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetAttachment loads one attachment and the id of the dialog it
// belongs to, so callers can authorize against dialog membership
// before handing out a download URL.
func (r *MessageRepo) GetAttachment(attachmentID string) (*model.Attachment, string, error) {
	var attachment model.Attachment
	if err := r.db.First(&attachment, "id = ?", attachmentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", apperr.NotFound("attachment not found")
		}
		return nil, "", apperr.Internal("load attachment", err)
	}
	var msg model.Message
	if err := r.db.Select("dialog_id").First(&msg, "id = ?", attachment.MessageID).Error; err != nil {
		return nil, "", apperr.Internal("load attachment's message", err)
	}
	return &attachment, msg.DialogID, nil
}

// GetOne loads a single message by id, scoped to its dialog.
func (r *MessageRepo) GetOne(dialogID, messageID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.Preload("Attachments").First(&msg, "id = ? AND dialog_id = ?", messageID, dialogID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Internal("load message", err)
	}
	return &msg, nil
}

// Edit replaces a message's content, recording the prior content in
// edit history. Only the original sender may edit; system messages
// and tombstones are immutable.
func (r *MessageRepo) Edit(dialogID, messageID, editorUserID, newContent string) (*model.Message, error) {
	msg, err := r.GetOne(dialogID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.MessageType != model.MessageTypeUser {
		return nil, apperr.Forbidden("system messages cannot be edited")
	}
	if msg.IsTombstone() {
		return nil, apperr.Forbidden("deleted messages cannot be edited")
	}
	if msg.SenderID == nil || *msg.SenderID != editorUserID {
		return nil, apperr.Forbidden("only the sender may edit this message")
	}

	sanitized := sanitize.Sanitize(newContent)
	now := time.Now().UTC()

	err = r.db.Transaction(func(tx *gorm.DB) error {
		history := model.MessageEditHistory{
			MessageID:     msg.ID,
			ContentBefore: msg.Content,
			EditedAt:      now,
		}
		if err := tx.Create(&history).Error; err != nil {
			return apperr.Internal("record edit history", err)
		}
		res := tx.Model(&model.Message{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{
				"content":        sanitized,
				"last_edited_at": now,
			})
		if res.Error != nil {
			return apperr.Internal("update message content", res.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetOne(dialogID, messageID)
}

// Delete soft-deletes a message: content is cleared, DeletedAt is set,
// and the row is retained as a tombstone so the cursor stays stable.
func (r *MessageRepo) Delete(dialogID, messageID, requesterUserID string) error {
	msg, err := r.GetOne(dialogID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == nil || *msg.SenderID != requesterUserID {
		return apperr.Forbidden("only the sender may delete this message")
	}
	if msg.IsTombstone() {
		return nil
	}

	now := time.Now().UTC()
	res := r.db.Model(&model.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"content":    "",
			"deleted_at": now,
		})
	if res.Error != nil {
		return apperr.Internal("delete message", res.Error)
	}
	return r.db.Where("message_id = ?", messageID).Delete(&model.Attachment{}).Error
}

// ListPage is one cursor-paginated page of messages, ordered oldest to
// newest within the page.
type ListPage struct {
	Messages             []model.Message
	HasMoreBefore        bool
	HasMoreAfter         bool
	FirstUnreadMessageID *string
}

const defaultPageSize = 50

// ListAround anchors the page on a message id, returning messages
// before and after it, split roughly evenly around the anchor.
func (r *MessageRepo) ListAround(dialogID, anchorID string, limit int) (*ListPage, error) {
	anchor, err := r.GetOne(dialogID, anchorID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	half := limit / 2

	var before []model.Message
	err = r.db.Preload("Attachments").
		Where("dialog_id = ? AND (sent_at, id) < (?, ?)", dialogID, anchor.SentAt, anchor.ID).
		Order("sent_at DESC, id DESC").
		Limit(half + 1).
		Find(&before).Error
	if err != nil {
		return nil, apperr.Internal("list messages before anchor", err)
	}
	hasMoreBefore := len(before) > half
	if hasMoreBefore {
		before = before[:half]
	}
	reverse(before)

	var after []model.Message
	err = r.db.Preload("Attachments").
		Where("dialog_id = ? AND (sent_at, id) > (?, ?)", dialogID, anchor.SentAt, anchor.ID).
		Order("sent_at ASC, id ASC").
		Limit(limit - half + 1).
		Find(&after).Error
	if err != nil {
		return nil, apperr.Internal("list messages after anchor", err)
	}
	hasMoreAfter := len(after) > limit-half
	if hasMoreAfter {
		after = after[:limit-half]
	}

	all := append(before, *anchor)
	all = append(all, after...)
	return &ListPage{Messages: all, HasMoreBefore: hasMoreBefore, HasMoreAfter: hasMoreAfter}, nil
}

// ListBefore returns up to limit messages strictly older than
// beforeID (or the end of history if beforeID is empty), oldest first.
func (r *MessageRepo) ListBefore(dialogID, beforeID string, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := r.db.Preload("Attachments").Where("dialog_id = ?", dialogID)
	if beforeID != "" {
		anchor, err := r.GetOne(dialogID, beforeID)
		if err != nil {
			return nil, err
		}
		q = q.Where("(sent_at, id) < (?, ?)", anchor.SentAt, anchor.ID)
	}

	var rows []model.Message
	if err := q.Order("sent_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, apperr.Internal("list messages before", err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	reverse(rows)
	return &ListPage{Messages: rows, HasMoreBefore: hasMore}, nil
}

// ListAfter returns up to limit messages strictly newer than afterID,
// oldest first.
func (r *MessageRepo) ListAfter(dialogID, afterID string, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	anchor, err := r.GetOne(dialogID, afterID)
	if err != nil {
		return nil, err
	}

	var rows []model.Message
	err = r.db.Preload("Attachments").
		Where("dialog_id = ? AND (sent_at, id) > (?, ?)", dialogID, anchor.SentAt, anchor.ID).
		Order("sent_at ASC, id ASC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal("list messages after", err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return &ListPage{Messages: rows, HasMoreAfter: hasMore}, nil
}

// ListLatest returns the newest page of messages (the default view
// when opening a dialog), oldest first, plus the caller's first
// unread message id computed from their participant cursor.
func (r *MessageRepo) ListLatest(dialogID string, limit int, participant *model.DialogParticipant) (*ListPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	var rows []model.Message
	err := r.db.Preload("Attachments").
		Where("dialog_id = ?", dialogID).
		Order("sent_at DESC, id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal("list latest messages", err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	reverse(rows)

	page := &ListPage{Messages: rows, HasMoreBefore: hasMore}
	if participant != nil {
		id, err := r.firstUnread(dialogID, participant)
		if err != nil {
			return nil, err
		}
		page.FirstUnreadMessageID = id
	}
	return page, nil
}

// firstUnread finds the earliest non-system message in the dialog's
// full history, authored by someone other than the participant, sent
// after the participant's last-read cursor (null cursor treated as
// epoch). Queried directly rather than scanned out of an already
// fetched page, since the true oldest unread message can sit outside
// that page once unread count exceeds its limit. Returns nil if
// everything has already been read.
func (r *MessageRepo) firstUnread(dialogID string, participant *model.DialogParticipant) (*string, error) {
	var lastReadSentAt time.Time // zero value is epoch

	if participant.LastReadMessageID != nil {
		var lastRead model.Message
		if err := r.db.Select("sent_at").First(&lastRead, "id = ? AND dialog_id = ?", *participant.LastReadMessageID, dialogID).Error; err != nil && err != gorm.ErrRecordNotFound {
			return nil, apperr.Internal("load read cursor", err)
		} else if err == nil {
			lastReadSentAt = lastRead.SentAt
		}
	}

	var oldest model.Message
	err := r.db.Select("id").
		Where("dialog_id = ? AND message_type = ? AND sender_id <> ? AND deleted_at IS NULL AND sent_at > ?",
			dialogID, model.MessageTypeUser, participant.UserID, lastReadSentAt).
		Order("sent_at ASC, id ASC").
		First(&oldest).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("find first unread message", err)
	}
	id := oldest.ID
	return &id, nil
}

func reverse(rows []model.Message) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

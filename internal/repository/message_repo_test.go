package repository

import (
	"testing"

	"github.com/mtchat/mtchat/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMessageRepo_SendSanitizesContent(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	msg, err := messageRepo.Send(SendInput{
		DialogID: dialog.ID,
		SenderID: "user-1",
		Content:  "<script>alert(1)</script><p>hi</p>",
	})
	require.NoError(t, err)
	require.NotContains(t, msg.Content, "script")
	require.Contains(t, msg.Content, "<p>hi</p>")
}

func TestMessageRepo_RejectsReplyToAReply(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	first, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "first"})
	require.NoError(t, err)

	reply, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "reply", ReplyToID: &first.ID})
	require.NoError(t, err)

	_, err = messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "nested", ReplyToID: &reply.ID})
	require.Error(t, err)
}

func TestMessageRepo_EditOnlyAllowsSender(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	msg, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "original"})
	require.NoError(t, err)

	_, err = messageRepo.Edit(dialog.ID, msg.ID, "user-2", "hijacked")
	require.Error(t, err)

	edited, err := messageRepo.Edit(dialog.ID, msg.ID, "user-1", "updated")
	require.NoError(t, err)
	require.Equal(t, "updated", edited.Content)
	require.NotNil(t, edited.LastEditedAt)

	var history []model.MessageEditHistory
	require.NoError(t, db.Where("message_id = ?", msg.ID).Find(&history).Error)
	require.Len(t, history, 1)
	require.Equal(t, "original", history[0].ContentBefore)
}

func TestMessageRepo_DeleteProducesTombstone(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	msg, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "bye"})
	require.NoError(t, err)

	require.NoError(t, messageRepo.Delete(dialog.ID, msg.ID, "user-1"))

	reloaded, err := messageRepo.GetOne(dialog.ID, msg.ID)
	require.NoError(t, err)
	require.True(t, reloaded.IsTombstone())

	resp := reloaded.ToResponse()
	require.Nil(t, resp.Content)
}

func TestMessageRepo_ListLatestComputesFirstUnread(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	m1, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "one"})
	require.NoError(t, err)
	m2, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "two"})
	require.NoError(t, err)

	participant := &model.DialogParticipant{LastReadMessageID: &m1.ID}
	page, err := messageRepo.ListLatest(dialog.ID, 10, participant)
	require.NoError(t, err)
	require.NotNil(t, page.FirstUnreadMessageID)
	require.Equal(t, m2.ID, *page.FirstUnreadMessageID)
}

// TestMessageRepo_ListLatestFindsFirstUnreadBeyondPage exercises a
// dialog whose unread count exceeds the fetched page size: the oldest
// unread message sits outside the page ListLatest returns, so the
// first-unread lookup must query history directly rather than scan
// the page.
func TestMessageRepo_ListLatestFindsFirstUnreadBeyondPage(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	var ids []string
	for i := 0; i < 5; i++ {
		m, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-2", Content: "msg"})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	participant := &model.DialogParticipant{UserID: "user-1"}
	page, err := messageRepo.ListLatest(dialog.ID, 2, participant)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.NotNil(t, page.FirstUnreadMessageID)
	require.Equal(t, ids[0], *page.FirstUnreadMessageID)
}

func TestMessageRepo_ListBeforeAndAfterPaginate(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	var ids []string
	for i := 0; i < 5; i++ {
		m, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "msg"})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	page, err := messageRepo.ListAfter(dialog.ID, ids[1], 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	require.True(t, page.HasMoreAfter)

	page, err = messageRepo.ListBefore(dialog.ID, ids[3], 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
}

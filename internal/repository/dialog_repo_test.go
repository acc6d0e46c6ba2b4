package repository

import (
	"testing"
	"time"

	"github.com/mtchat/mtchat/internal/model"
	"github.com/mtchat/mtchat/internal/scope"
	"github.com/stretchr/testify/require"
)

func seedDialog(t *testing.T, repo *DialogRepo) *model.Dialog {
	t.Helper()
	dialog, err := repo.Create(CreateInput{
		ObjectType: "invoice",
		ObjectID:   "inv-1",
		CreatedBy:  "user-1",
		Scopes: []model.DialogAccessScope{
			{TenantUID: "tenant-a", ScopeLevel1: []string{"sales"}, ScopeLevel2: []string{"region-1"}},
		},
		Participants: []model.DialogParticipant{
			{UserID: "user-1", DisplayName: "Creator", JoinedAs: model.JoinedAsCreator},
		},
	})
	require.NoError(t, err)
	return dialog
}

func TestDialogRepo_CreateSeedsCreatorAndSystemMessage(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)

	dialog := seedDialog(t, dialogRepo)
	require.NotEmpty(t, dialog.ID)

	p, err := dialogRepo.Participant(dialog.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, model.JoinedAsCreator, p.JoinedAs)

	page, err := messageRepo.ListLatest(dialog.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, model.MessageTypeSystem, page.Messages[0].MessageType)
}

func TestDialogRepo_JoinIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	dialog := seedDialog(t, dialogRepo)

	cfg := scope.Config{TenantUID: "tenant-a", ScopeLevel1: []string{"sales"}, ScopeLevel2: []string{"region-1"}}
	profile := model.DialogParticipant{UserID: "user-2", DisplayName: "Second"}

	p1, created1, err := dialogRepo.Join(dialog.ID, cfg, profile)
	require.NoError(t, err)
	require.True(t, created1)

	p2, created2, err := dialogRepo.Join(dialog.ID, cfg, profile)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, p1.UserID, p2.UserID)

	counts, err := dialogRepo.participantsCounts([]string{dialog.ID})
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[dialog.ID])
}

func TestDialogRepo_JoinRejectsOutOfScopeUser(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	dialog := seedDialog(t, dialogRepo)

	cfg := scope.Config{TenantUID: "tenant-b", ScopeLevel1: []string{"sales"}, ScopeLevel2: []string{"region-1"}}
	_, _, err := dialogRepo.Join(dialog.ID, cfg, model.DialogParticipant{UserID: "intruder", DisplayName: "Intruder"})
	require.Error(t, err)
}

func TestDialogRepo_ListAvailableExcludesJoinedAndOutOfScope(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	dialog := seedDialog(t, dialogRepo)

	cfg := scope.Config{TenantUID: "tenant-a", ScopeLevel1: []string{"sales"}, ScopeLevel2: []string{"region-1"}}
	list, err := dialogRepo.ListAvailable(cfg, "user-2", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, dialog.ID, list[0].ID)

	_, _, err = dialogRepo.Join(dialog.ID, cfg, model.DialogParticipant{UserID: "user-2", DisplayName: "Second"})
	require.NoError(t, err)

	list, err = dialogRepo.ListAvailable(cfg, "user-2", "")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDialogRepo_SetFlagsRoundTrips(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	dialog := seedDialog(t, dialogRepo)

	p, err := dialogRepo.SetFlags(dialog.ID, "user-1", map[string]interface{}{"is_pinned": true})
	require.NoError(t, err)
	require.True(t, p.IsPinned)
}

func TestDialogRepo_LeaveIsNoOpWhenNotJoined(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	dialog := seedDialog(t, dialogRepo)

	left, err := dialogRepo.Leave(dialog.ID, "ghost")
	require.NoError(t, err)
	require.False(t, left)
}

func TestDialogRepo_LeaveReportsRemoval(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	dialog := seedDialog(t, dialogRepo)

	left, err := dialogRepo.Leave(dialog.ID, "user-1")
	require.NoError(t, err)
	require.True(t, left)

	p, err := dialogRepo.Participant(dialog.ID, "user-1")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestDialogRepo_MarkReadIsMonotone(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	_, _, err := dialogRepo.Join(dialog.ID, scope.Config{TenantUID: "tenant-a", ScopeLevel1: []string{"sales"}, ScopeLevel2: []string{"region-1"}}, model.DialogParticipant{UserID: "user-2", DisplayName: "Second"})
	require.NoError(t, err)

	older, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-2", Content: "first"})
	require.NoError(t, err)
	newer, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-2", Content: "second"})
	require.NoError(t, err)

	p, err := dialogRepo.MarkRead(dialog.ID, "user-1", newer.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastReadMessageID)
	require.Equal(t, newer.ID, *p.LastReadMessageID)
	require.Equal(t, 0, p.UnreadCount)

	// Submitting an older message id must not regress progress.
	p, err = dialogRepo.MarkRead(dialog.ID, "user-1", older.ID)
	require.NoError(t, err)
	require.Equal(t, newer.ID, *p.LastReadMessageID)
	require.Equal(t, 0, p.UnreadCount)
}

func TestDialogRepo_LookupAllByObjectIncludesEveryMatchingDialog(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	d1 := seedDialog(t, dialogRepo)

	_, err := dialogRepo.Create(CreateInput{
		ObjectType: "invoice",
		ObjectID:   "inv-1",
		CreatedBy:  "user-3",
		Scopes: []model.DialogAccessScope{
			{TenantUID: "tenant-a", ScopeLevel1: []string{"sales"}, ScopeLevel2: []string{"region-1"}},
		},
		Participants: []model.DialogParticipant{
			{UserID: "user-3", DisplayName: "Other Creator", JoinedAs: model.JoinedAsCreator},
		},
	})
	require.NoError(t, err)

	cfg := scope.Config{TenantUID: "tenant-a", ScopeLevel1: []string{"sales"}, ScopeLevel2: []string{"region-1"}}
	all, err := dialogRepo.LookupAllByObject("invoice", "inv-1", cfg, "user-1")
	require.NoError(t, err)
	require.Len(t, all, 2)

	found := false
	for _, d := range all {
		if d.ID == d1.ID {
			found = true
			require.Equal(t, "participant", d.Relation)
		}
	}
	require.True(t, found)
}

func TestDialogRepo_ArchiveStaleArchivesOldDialogsOnly(t *testing.T) {
	db := newTestDB(t)
	dialogRepo := NewDialogRepo(db)
	messageRepo := NewMessageRepo(db)
	dialog := seedDialog(t, dialogRepo)

	_, err := messageRepo.Send(SendInput{DialogID: dialog.ID, SenderID: "user-1", Content: "hello"})
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(24 * time.Hour)
	n, err := dialogRepo.ArchiveStale(cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	p, err := dialogRepo.Participant(dialog.ID, "user-1")
	require.NoError(t, err)
	require.True(t, p.IsArchived)
}

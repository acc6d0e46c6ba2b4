// Package repository is the persistence boundary: every SQL statement
// in the service lives here, behind methods named for the operation
// they perform rather than the table they touch.
package repository

import (
	"encoding/json"
	"time"

	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/model"
	"github.com/mtchat/mtchat/internal/scope"
	"gorm.io/gorm"
)

// DialogRepo is the persistence boundary for dialogs, access scopes,
// and participants.
type DialogRepo struct {
	db *gorm.DB
}

func NewDialogRepo(db *gorm.DB) *DialogRepo {
	return &DialogRepo{db: db}
}

// CreateInput is everything needed to open a new dialog: its identity,
// its initial access scopes, and its initial participants. Duplicate
// participants (by UserID) are de-duplicated before insert.
type CreateInput struct {
	ObjectType   string
	ObjectID     string
	Title        *string
	ObjectURL    *string
	CreatedBy    string
	Scopes       []model.DialogAccessScope
	Participants []model.DialogParticipant
}

// systemEvent is the structured payload stored as a system message's
// content, JSON-encoded, so clients can render it without a parallel
// event-type column.
type systemEvent struct {
	Event        string   `json:"event"`
	Name         string   `json:"name,omitempty"`
	Company      *string  `json:"company,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

func encodeSystemEvent(e systemEvent) string {
	b, _ := json.Marshal(e)
	return string(b)
}

func dedupeParticipants(participants []model.DialogParticipant) []model.DialogParticipant {
	seen := make(map[string]struct{}, len(participants))
	out := make([]model.DialogParticipant, 0, len(participants))
	for _, p := range participants {
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Create opens a dialog, its access scopes, its initial participants,
// and a single "chat_created" system message in one transaction.
func (r *DialogRepo) Create(in CreateInput) (*model.Dialog, error) {
	dialog := model.Dialog{
		ObjectType: in.ObjectType,
		ObjectID:   in.ObjectID,
		Title:      in.Title,
		ObjectURL:  in.ObjectURL,
		CreatedBy:  in.CreatedBy,
	}
	participants := dedupeParticipants(in.Participants)

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&dialog).Error; err != nil {
			return apperr.Internal("create dialog", err)
		}

		for i := range in.Scopes {
			in.Scopes[i].DialogID = dialog.ID
		}
		if len(in.Scopes) > 0 {
			if err := tx.Create(&in.Scopes).Error; err != nil {
				return apperr.Internal("create dialog access scopes", err)
			}
		}

		userIDs := make([]string, len(participants))
		for i := range participants {
			participants[i].DialogID = dialog.ID
			if participants[i].JoinedAs == "" {
				participants[i].JoinedAs = model.JoinedAsDirect
			}
			userIDs[i] = participants[i].UserID
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return apperr.Internal("create dialog participants", err)
			}
		}

		sysMsg := model.Message{
			DialogID:    dialog.ID,
			MessageType: model.MessageTypeSystem,
			Content:     encodeSystemEvent(systemEvent{Event: "chat_created", Participants: userIDs}),
		}
		if err := tx.Create(&sysMsg).Error; err != nil {
			return apperr.Internal("create dialog system message", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dialog, nil
}

// GetByID loads a dialog by its primary key.
func (r *DialogRepo) GetByID(id string) (*model.Dialog, error) {
	var dialog model.Dialog
	if err := r.db.First(&dialog, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("dialog not found")
		}
		return nil, apperr.Internal("load dialog", err)
	}
	return &dialog, nil
}

// Delete removes a dialog and all of its cascaded rows (scopes,
// participants, messages, attachments).
func (r *DialogRepo) Delete(id string) error {
	res := r.db.Delete(&model.Dialog{}, "id = ?", id)
	if res.Error != nil {
		return apperr.Internal("delete dialog", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("dialog not found")
	}
	return nil
}

// AccessScopes returns every access-scope row for a dialog, used by
// the scope resolver to decide potential-participant relations.
func (r *DialogRepo) AccessScopes(dialogID string) ([]model.DialogAccessScope, error) {
	var rows []model.DialogAccessScope
	if err := r.db.Where("dialog_id = ?", dialogID).Find(&rows).Error; err != nil {
		return nil, apperr.Internal("load dialog access scopes", err)
	}
	return rows, nil
}

func accessRowsFrom(scopes []model.DialogAccessScope) []scope.AccessRow {
	rows := make([]scope.AccessRow, len(scopes))
	for i, s := range scopes {
		rows[i] = scope.AccessRow{
			TenantUID:   s.TenantUID,
			ScopeLevel1: []string(s.ScopeLevel1),
			ScopeLevel2: []string(s.ScopeLevel2),
		}
	}
	return rows
}

// Participant loads one participant row, or nil if the user never
// joined this dialog.
func (r *DialogRepo) Participant(dialogID, userID string) (*model.DialogParticipant, error) {
	var p model.DialogParticipant
	err := r.db.First(&p, "dialog_id = ? AND user_id = ?", dialogID, userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("load participant", err)
	}
	return &p, nil
}

// IsParticipant satisfies internal/ws.MembershipChecker.
func (r *DialogRepo) IsParticipant(dialogID, userID string) bool {
	p, err := r.Participant(dialogID, userID)
	return err == nil && p != nil
}

// Join adds userID as a participant of dialogID, provided the scope
// config grants at least a potential relation. Idempotent: joining
// twice returns the existing row with created=false and no error.
// On first join it also inserts a "participant_joined" system
// message, in the same transaction as the participant row.
func (r *DialogRepo) Join(dialogID string, cfg scope.Config, profile model.DialogParticipant) (p *model.DialogParticipant, created bool, err error) {
	existing, err := r.Participant(dialogID, profile.UserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	scopes, err := r.AccessScopes(dialogID)
	if err != nil {
		return nil, false, err
	}
	relation, _ := scope.Resolve(cfg, accessRowsFrom(scopes), false)
	if relation == scope.RelationNone {
		return nil, false, apperr.Forbidden("not authorized to join this dialog")
	}

	profile.DialogID = dialogID
	profile.JoinedAs = model.JoinedAsJoined
	if err := r.addParticipantTx(dialogID, &profile); err != nil {
		return nil, false, err
	}
	return &profile, true, nil
}

// AddDirect adds a participant unconditionally (Management API path —
// bypasses scope resolution since an operator is explicitly inviting
// this user). Idempotent on (dialog_id, user_id): created is false on
// a repeat add.
func (r *DialogRepo) AddDirect(profile model.DialogParticipant) (p *model.DialogParticipant, created bool, err error) {
	existing, err := r.Participant(profile.DialogID, profile.UserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	if profile.JoinedAs == "" {
		profile.JoinedAs = model.JoinedAsDirect
	}
	if err := r.addParticipantTx(profile.DialogID, &profile); err != nil {
		return nil, false, err
	}
	return &profile, true, nil
}

// addParticipantTx inserts a participant row and its "participant_joined"
// system message atomically.
func (r *DialogRepo) addParticipantTx(dialogID string, profile *model.DialogParticipant) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(profile).Error; err != nil {
			return apperr.Internal("create participant", err)
		}
		sysMsg := model.Message{
			DialogID:    dialogID,
			MessageType: model.MessageTypeSystem,
			Content: encodeSystemEvent(systemEvent{
				Event:   "participant_joined",
				Name:    profile.DisplayName,
				Company: profile.Company,
			}),
		}
		if err := tx.Create(&sysMsg).Error; err != nil {
			return apperr.Internal("create participant_joined system message", err)
		}
		return nil
	})
}

// Leave removes a participant row and inserts a "participant_left"
// system message. Leaving a dialog you are not in is a no-op, not an
// error; left reports whether a row was actually deleted, so callers
// can skip firing events on a true no-op.
func (r *DialogRepo) Leave(dialogID, userID string) (left bool, err error) {
	p, err := r.Participant(dialogID, userID)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.DialogParticipant{}, "dialog_id = ? AND user_id = ?", dialogID, userID)
		if res.Error != nil {
			return apperr.Internal("delete participant", res.Error)
		}
		sysMsg := model.Message{
			DialogID:    dialogID,
			MessageType: model.MessageTypeSystem,
			Content:     encodeSystemEvent(systemEvent{Event: "participant_left", Name: p.DisplayName}),
		}
		if err := tx.Create(&sysMsg).Error; err != nil {
			return apperr.Internal("create participant_left system message", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetFlags applies a sparse update of per-user dialog flags
// (archived/pinned/notifications) and returns the re-fetched row.
// GORM's Updates(map) does not populate its receiver struct, so the
// row must be reloaded after the write.
func (r *DialogRepo) SetFlags(dialogID, userID string, updates map[string]interface{}) (*model.DialogParticipant, error) {
	res := r.db.Model(&model.DialogParticipant{}).
		Where("dialog_id = ? AND user_id = ?", dialogID, userID).
		Updates(updates)
	if res.Error != nil {
		return nil, apperr.Internal("update participant flags", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("participant not found")
	}
	return r.Participant(dialogID, userID)
}

// MarkRead advances last_read_message_id and recomputes unread_count
// from the authoritative definition: messages in the dialog authored
// by someone else, of type user, not deleted, sent after the newly
// read message. Monotone: submitting a lastReadMessageID whose sent_at
// is at or before the participant's current cursor is a no-op — it
// never decreases read progress, even on a stale or duplicate retry.
func (r *DialogRepo) MarkRead(dialogID, userID, lastReadMessageID string) (*model.DialogParticipant, error) {
	participant, err := r.Participant(dialogID, userID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, apperr.NotFound("participant not found")
	}

	var anchor model.Message
	if err := r.db.Select("sent_at").First(&anchor, "id = ? AND dialog_id = ?", lastReadMessageID, dialogID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.Validation("last_read_message_id does not reference a message in this dialog")
		}
		return nil, apperr.Internal("load read anchor", err)
	}

	if participant.LastReadMessageID != nil {
		var current model.Message
		if err := r.db.Select("sent_at").First(&current, "id = ? AND dialog_id = ?", *participant.LastReadMessageID, dialogID).Error; err != nil {
			return nil, apperr.Internal("load current read cursor", err)
		}
		if !anchor.SentAt.After(current.SentAt) {
			return participant, nil
		}
	}

	var unread int64
	err := r.db.Model(&model.Message{}).
		Where("dialog_id = ? AND sender_id <> ? AND message_type = ? AND deleted_at IS NULL AND sent_at > ?",
			dialogID, userID, model.MessageTypeUser, anchor.SentAt).
		Count(&unread).Error
	if err != nil {
		return nil, apperr.Internal("recompute unread count", err)
	}

	return r.SetFlags(dialogID, userID, map[string]interface{}{
		"last_read_message_id": lastReadMessageID,
		"unread_count":         unread,
	})
}

// IncrementUnread bumps unread_count for every participant of a dialog
// other than the author, used after a new message is sent.
func (r *DialogRepo) IncrementUnread(dialogID, exceptUserID string) error {
	err := r.db.Model(&model.DialogParticipant{}).
		Where("dialog_id = ? AND user_id <> ?", dialogID, exceptUserID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
	if err != nil {
		return apperr.Internal("increment unread count", err)
	}
	return nil
}

// ParticipantsExcept returns every participant of a dialog other than
// exceptUserID who has notifications enabled, used to fan out debounced notification jobs after a
// message send.
func (r *DialogRepo) ParticipantsExcept(dialogID, exceptUserID string) ([]model.DialogParticipant, error) {
	var rows []model.DialogParticipant
	err := r.db.Where("dialog_id = ? AND user_id <> ? AND notifications_enabled = ?", dialogID, exceptUserID, true).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal("load participants except sender", err)
	}
	return rows, nil
}

// participantsCounts batch-counts participants for a set of dialog
// ids, avoiding one query per dialog.
func (r *DialogRepo) participantsCounts(dialogIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64)
	if len(dialogIDs) == 0 {
		return counts, nil
	}
	type row struct {
		DialogID string
		Count    int64
	}
	var rows []row
	err := r.db.Model(&model.DialogParticipant{}).
		Select("dialog_id, count(*) as count").
		Where("dialog_id IN ?", dialogIDs).
		Group("dialog_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal("batch count participants", err)
	}
	for _, rr := range rows {
		counts[rr.DialogID] = rr.Count
	}
	return counts, nil
}

// ListParticipating returns the dialogs userID has joined whose archived
// flag equals archived, optionally filtered by a title/object-id search
// term; pinned dialogs come first, then the most recently created.
func (r *DialogRepo) ListParticipating(userID string, archived bool, search string) ([]model.DialogResponse, error) {
	type joined struct {
		model.Dialog
		IsArchived bool
		IsPinned   bool
	}
	q := r.db.Table("dialogs").
		Select("dialogs.*, dialog_participants.is_archived as is_archived, dialog_participants.is_pinned as is_pinned").
		Joins("JOIN dialog_participants ON dialog_participants.dialog_id = dialogs.id").
		Where("dialog_participants.user_id = ? AND dialog_participants.is_archived = ?", userID, archived)
	if search != "" {
		q = q.Where("dialogs.title ILIKE ? OR dialogs.object_id ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var rows []joined
	if err := q.Order("dialog_participants.is_pinned DESC, dialogs.created_at DESC").Find(&rows).Error; err != nil {
		return nil, apperr.Internal("list participating dialogs", err)
	}

	ids := make([]string, len(rows))
	for i, rr := range rows {
		ids[i] = rr.Dialog.ID
	}
	counts, err := r.participantsCounts(ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.DialogResponse, len(rows))
	for i, rr := range rows {
		d := rr.Dialog
		out[i] = d.ToResponse(counts[d.ID], string(scope.RelationParticipant), false)
	}
	return out, nil
}

// ListAvailable returns dialogs the caller has not joined but is a
// potential participant of per their scope config, newest first.
func (r *DialogRepo) ListAvailable(cfg scope.Config, userID, search string) ([]model.DialogResponse, error) {
	q := r.db.Model(&model.Dialog{}).
		Joins("JOIN dialog_access_scopes ON dialog_access_scopes.dialog_id = dialogs.id").
		Where("dialog_access_scopes.tenant_uid = ?", cfg.TenantUID).
		Where("dialogs.id NOT IN (SELECT dialog_id FROM dialog_participants WHERE user_id = ?)", userID)
	if search != "" {
		q = q.Where("dialogs.title ILIKE ? OR dialogs.object_id ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var candidates []model.Dialog
	if err := q.Group("dialogs.id").Order("dialogs.created_at DESC").Find(&candidates).Error; err != nil {
		return nil, apperr.Internal("list available dialogs", err)
	}

	ids := make([]string, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
	}
	counts, err := r.participantsCounts(ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.DialogResponse, 0, len(candidates))
	for _, d := range candidates {
		scopes, err := r.AccessScopes(d.ID)
		if err != nil {
			return nil, err
		}
		relation, canJoin := scope.Resolve(cfg, accessRowsFrom(scopes), false)
		if relation != scope.RelationPotential {
			continue
		}
		out = append(out, d.ToResponse(counts[d.ID], string(relation), canJoin))
	}
	return out, nil
}

// LookupByObject returns the single most recently created dialog bound
// to (objectType, objectID), or nil if none exists. Documented as
// lossy when more than one dialog targets the same object.
func (r *DialogRepo) LookupByObject(objectType, objectID string) (*model.Dialog, error) {
	var dialog model.Dialog
	err := r.db.Where("object_type = ? AND object_id = ?", objectType, objectID).
		Order("created_at DESC").
		First(&dialog).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("lookup dialog by object", err)
	}
	return &dialog, nil
}

// LookupAllByObject returns every dialog bound to (objectType,
// objectID), newest first, each tagged with the caller's relation.
// Additive endpoint resolving the "list all dialogs for an object"
// open question without changing LookupByObject's existing contract.
func (r *DialogRepo) LookupAllByObject(objectType, objectID string, cfg scope.Config, userID string) ([]model.DialogResponse, error) {
	var dialogs []model.Dialog
	err := r.db.Where("object_type = ? AND object_id = ?", objectType, objectID).
		Order("created_at DESC").
		Find(&dialogs).Error
	if err != nil {
		return nil, apperr.Internal("lookup all dialogs by object", err)
	}

	ids := make([]string, len(dialogs))
	for i, d := range dialogs {
		ids[i] = d.ID
	}
	counts, err := r.participantsCounts(ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.DialogResponse, 0, len(dialogs))
	for _, d := range dialogs {
		p, err := r.Participant(d.ID, userID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, d.ToResponse(counts[d.ID], string(scope.RelationParticipant), false))
			continue
		}
		scopes, err := r.AccessScopes(d.ID)
		if err != nil {
			return nil, err
		}
		relation, canJoin := scope.Resolve(cfg, accessRowsFrom(scopes), false)
		out = append(out, d.ToResponse(counts[d.ID], string(relation), canJoin))
	}
	return out, nil
}

// ArchiveStale finds every (dialog, participant) pair whose dialog's
// most recent message is older than cutoff and not yet archived for
// that participant, archiving them in bulk. Returns the number of
// participant rows archived. Used by the auto-archive cron job.
func (r *DialogRepo) ArchiveStale(cutoff time.Time) (int64, error) {
	sub := r.db.Model(&model.Message{}).
		Select("dialog_id, MAX(sent_at) as last_sent_at").
		Group("dialog_id")

	res := r.db.Model(&model.DialogParticipant{}).
		Where("is_archived = ?", false).
		Where("dialog_id IN (?)",
			r.db.Table("(?) as last_activity", sub).
				Select("dialog_id").
				Where("last_activity.last_sent_at < ?", cutoff),
		).
		Update("is_archived", true)
	if res.Error != nil {
		return 0, apperr.Internal("archive stale dialogs", res.Error)
	}
	return res.RowsAffected, nil
}

package notification

import (
	"errors"
	"fmt"
	"time"
)

// Status は通知の状態を表す。
// UNREAD→READ→ARCHIVEDの順にのみ遷移し、逆方向の遷移はない。
type Status string

const (
	// StatusUnread は未読状態。作成直後の通知はこの状態を持つ。
	StatusUnread Status = "UNREAD"
	// StatusRead は既読状態。read_atに既読日時が記録される。
	StatusRead Status = "READ"
	// StatusArchived はアーカイブ済み状態。archived_atにアーカイブ日時が記録される。
	StatusArchived Status = "ARCHIVED"
)

// Type は通知の種類を表す。
type Type string

const (
	// TypeEventReminder はイベント開催前のリマインド通知。
	// 受信者・イベント・リマインド時間の組み合わせで一意性が保証される。
	TypeEventReminder Type = "EVENT_REMINDER"
	// TypeRegistrationConfirmed はイベント参加登録の確定通知。
	TypeRegistrationConfirmed Type = "REGISTRATION_CONFIRMED"
	// TypeEventUpdated はイベント内容の変更通知。
	TypeEventUpdated Type = "EVENT_UPDATED"
	// TypeEventCancelled はイベントの開催中止通知。
	TypeEventCancelled Type = "EVENT_CANCELLED"
	// TypeWaitlistPromoted はキャンセル待ちからの繰り上げ通知。
	TypeWaitlistPromoted Type = "WAITLIST_PROMOTED"
	// TypeNewComment はイベントへの新規コメント通知。
	TypeNewComment Type = "NEW_COMMENT"
	// TypeCommentReply はコメントへの返信通知。
	TypeCommentReply Type = "COMMENT_REPLY"
	// TypeRegistrationWaitlisted はキャンセル待ち登録の通知。
	TypeRegistrationWaitlisted Type = "REGISTRATION_WAITLISTED"
	// TypeRegistrationApproved は参加申請の承認通知。
	TypeRegistrationApproved Type = "REGISTRATION_APPROVED"
	// TypeEventInvitation はイベントへの招待通知。
	TypeEventInvitation Type = "EVENT_INVITATION"
	// TypeSystemAnnouncement は運営からのお知らせ通知。
	TypeSystemAnnouncement Type = "SYSTEM_ANNOUNCEMENT"
)

// validTypes は既知の通知種類の集合。
var validTypes = map[Type]struct{}{
	TypeEventReminder:          {},
	TypeRegistrationConfirmed:  {},
	TypeEventUpdated:           {},
	TypeEventCancelled:         {},
	TypeWaitlistPromoted:       {},
	TypeNewComment:             {},
	TypeCommentReply:           {},
	TypeRegistrationWaitlisted: {},
	TypeRegistrationApproved:   {},
	TypeEventInvitation:        {},
	TypeSystemAnnouncement:     {},
}

// Valid は既知の通知種類かどうかを返す。
func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

var (
	// ErrNotFound は指定された通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrNotOwner は通知の所有者以外による操作を表す。
	ErrNotOwner = errors.New("通知の所有者ではありません")
	// ErrDuplicateReminder は同一内容のリマインド通知が既に存在することを表す。
	// 呼び出し側はエラーではなく重複スキップとして扱う。
	ErrDuplicateReminder = errors.New("リマインド通知が重複しています")
	// ErrInvalidParams は通知作成パラメータの検証エラーを表す。
	ErrInvalidParams = errors.New("通知パラメータが不正です")
)

// Notification は通知の1レコードを表す。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `db:"id"`
	// RecipientID は通知先のユーザーID。閲覧と操作はこのユーザーに限定される。
	RecipientID string `db:"recipient_id"`
	// Type は通知の種類。
	Type Type `db:"type"`
	// Status は通知の状態。
	Status Status `db:"status"`
	// Title は通知のタイトル。作成時点のスナップショットで再計算されない。
	Title string `db:"title"`
	// Message は通知メッセージ。作成時点のスナップショットで再計算されない。
	Message string `db:"message"`
	// RelatedEventID は関連イベントのID。画面遷移用の参照でイベント系通知のみ持つ。
	RelatedEventID *string `db:"related_event_id"`
	// ReminderLeadHours は適用されたリマインド時間。EVENT_REMINDERのみ持つ。
	ReminderLeadHours *int `db:"reminder_lead_hours"`
	// CreatedAt は通知の作成日時。一覧の並び順のキーとなる。
	CreatedAt time.Time `db:"created_at"`
	// ReadAt は既読日時。
	ReadAt *time.Time `db:"read_at"`
	// ArchivedAt はアーカイブ日時。
	ArchivedAt *time.Time `db:"archived_at"`
}

// CreateParams は通知作成の入力パラメータ。
type CreateParams struct {
	// RecipientID は通知先のユーザーID。
	RecipientID string
	// Type は通知の種類。
	Type Type
	// Title は通知のタイトル。
	Title string
	// Message は通知メッセージ。
	Message string
	// RelatedEventID は関連イベントのID。
	RelatedEventID *string
	// ReminderLeadHours はリマインド時間。EVENT_REMINDERでは必須。
	ReminderLeadHours *int
}

// validate は作成パラメータの整合性を検証する。
func (p CreateParams) validate() error {
	if p.RecipientID == "" {
		return fmt.Errorf("recipient_idは必須です: %w", ErrInvalidParams)
	}
	if p.Title == "" {
		return fmt.Errorf("titleは必須です: %w", ErrInvalidParams)
	}
	if p.Message == "" {
		return fmt.Errorf("messageは必須です: %w", ErrInvalidParams)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("不明な通知種類 %q: %w", p.Type, ErrInvalidParams)
	}
	if p.Type == TypeEventReminder {
		if p.RelatedEventID == nil || *p.RelatedEventID == "" {
			return fmt.Errorf("EVENT_REMINDERにはrelated_event_idが必須です: %w", ErrInvalidParams)
		}
		if p.ReminderLeadHours == nil || *p.ReminderLeadHours <= 0 {
			return fmt.Errorf("EVENT_REMINDERには正のreminder_lead_hoursが必須です: %w", ErrInvalidParams)
		}
	}
	return nil
}

// ListFilter は通知一覧の絞り込み条件。
type ListFilter struct {
	// Status は状態での絞り込み。nilの場合は全状態を対象とする。
	Status *Status
	// Type は種類での絞り込み。nilの場合は全種類を対象とする。
	Type *Type
}

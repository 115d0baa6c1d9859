package event

import (
	"time"
)

// Status はイベントカタログ上のイベントの公開状態を表す。
type Status string

const (
	// StatusDraft は下書き状態のイベントを表す。参加者には公開されない。
	StatusDraft Status = "DRAFT"
	// StatusPublished は公開済みのイベントを表す。リマインド対象となる。
	StatusPublished Status = "PUBLISHED"
	// StatusCancelled は中止されたイベントを表す。リマインド対象から除外される。
	StatusCancelled Status = "CANCELLED"
	// StatusCompleted は開催が終了したイベントを表す。
	StatusCompleted Status = "COMPLETED"
)

// Event はイベントカタログサービスが管理するイベントを表す。
// 通知パイプラインはこの構造体を読み取り専用で扱い、変更は行わない。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Title はイベントのタイトル。
	Title string `json:"title"`
	// Location は開催場所。オンライン開催の場合は空文字列。
	Location string `json:"location"`
	// StartsAt はイベントの開始日時。
	StartsAt time.Time `json:"starts_at"`
	// Status はイベントの公開状態。
	Status Status `json:"status"`
}

// HoursUntilStart は現在時刻からイベント開始までの残り時間（時間単位）を返す。
// イベントが開始済みの場合は負の値を返す。
func (e Event) HoursUntilStart(now time.Time) float64 {
	return e.StartsAt.Sub(now).Hours()
}

// Recipient はイベントのリマインド対象者を表す。
// 参加登録レコードとユーザーのリマインド設定から導出される。
type Recipient struct {
	// UserID はリマインド対象ユーザーの一意識別子。
	UserID string `json:"user_id"`
	// ReminderLeadHours はイベント開始の何時間前にリマインドするかの設定。
	// 0は未設定を表し、呼び出し側のデフォルト値が使用される。
	ReminderLeadHours int `json:"reminder_lead_hours"`
}

// LeadHours はリマインド時間の設定値を返す。未設定（0以下）の場合はfallbackを返す。
func (r Recipient) LeadHours(fallback int) int {
	if r.ReminderLeadHours <= 0 {
		return fallback
	}
	return r.ReminderLeadHours
}

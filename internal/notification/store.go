package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/eventhub/internal/scheduler"
	"github.com/nao1215/eventhub/pkg/migration"
)

const (
	// defaultPageSize はlimit未指定時の1ページあたりの件数。
	defaultPageSize = 20
	// maxPageSize は1ページあたりの件数の上限。
	maxPageSize = 50
)

// Store は通知の永続化を担うデータアクセス層。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
}

// NewStore はSQLiteデータベースを開き、マイグレーションを適用してStoreを生成する。
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if strings.Contains(dbPath, ":memory:") {
		// メモリDBは接続ごとに別インスタンスになるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("journal_modeの設定に失敗: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("busy_timeoutの設定に失敗: %w", err)
	}

	applied, err := migration.Run(db.DB, migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}
	if applied > 0 {
		log.Printf("[Migration] %d件のマイグレーションを適用しました", applied)
	}

	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Create は通知を1件作成して作成された通知を返す。
// EVENT_REMINDERで同一の（受信者・イベント・リマインド時間）の通知が
// 既に存在する場合はErrDuplicateReminderを返し、行は挿入しない。
func (s *Store) Create(ctx context.Context, params CreateParams) (Notification, error) {
	if err := params.validate(); err != nil {
		return Notification{}, err
	}

	n := Notification{
		ID:                uuid.New().String(),
		RecipientID:       params.RecipientID,
		Type:              params.Type,
		Status:            StatusUnread,
		Title:             params.Title,
		Message:           params.Message,
		RelatedEventID:    params.RelatedEventID,
		ReminderLeadHours: params.ReminderLeadHours,
		CreatedAt:         time.Now().UTC(),
	}

	const insert = `
		INSERT INTO notifications
			(id, recipient_id, type, status, title, message, related_event_id, reminder_lead_hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if params.Type == TypeEventReminder {
		// 一意制約に衝突した場合は挿入せず0行更新となる
		res, err := s.db.ExecContext(ctx, insert+" ON CONFLICT DO NOTHING",
			n.ID, n.RecipientID, n.Type, n.Status, n.Title, n.Message,
			n.RelatedEventID, n.ReminderLeadHours, n.CreatedAt)
		if err != nil {
			return Notification{}, fmt.Errorf("リマインド通知の作成に失敗: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return Notification{}, fmt.Errorf("挿入行数の取得に失敗: %w", err)
		}
		if affected == 0 {
			return Notification{}, ErrDuplicateReminder
		}
		return n, nil
	}

	if _, err := s.db.ExecContext(ctx, insert,
		n.ID, n.RecipientID, n.Type, n.Status, n.Title, n.Message,
		n.RelatedEventID, n.ReminderLeadHours, n.CreatedAt); err != nil {
		return Notification{}, fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return n, nil
}

// List は受信者の通知を作成日時の降順でページングして返す。
// 2番目の戻り値は絞り込み条件に一致する通知の総数。
func (s *Store) List(ctx context.Context, recipientID string, filter ListFilter, page, pageSize int) ([]Notification, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	where := "WHERE recipient_id = ?"
	args := []any{recipientID}
	if filter.Status != nil {
		where += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		where += " AND type = ?"
		args = append(args, *filter.Type)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	// 同時刻の通知はIDの降順で順序を安定させる
	query := "SELECT * FROM notifications " + where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)

	items := []Notification{}
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return items, total, nil
}

// UnreadCount は受信者の未読通知の件数を返す。
func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND status = ?",
		recipientID, StatusUnread)
	if err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}
	return count, nil
}

// GetByID はIDで通知を1件取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) GetByID(ctx context.Context, id string) (Notification, error) {
	var n Notification
	err := s.db.GetContext(ctx, &n, "SELECT * FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return n, nil
}

// MarkRead は受信者の未読通知を既読にして更新後の通知を返す。
// 未読からの遷移は単一のUPDATE文で行い、2つの画面が同時に操作しても
// 片方だけが遷移を実行する。既に既読・アーカイブ済みの場合は現在の
// 通知をそのまま返す（冪等）。
func (s *Store) MarkRead(ctx context.Context, recipientID, id string) (Notification, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = ?, read_at = ? WHERE id = ? AND recipient_id = ? AND status = ?",
		StatusRead, time.Now().UTC(), id, recipientID, StatusUnread)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の既読化に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Notification{}, fmt.Errorf("更新行数の取得に失敗: %w", err)
	}
	if affected > 0 {
		return s.GetByID(ctx, id)
	}

	// 0行更新の場合は存在・所有者・状態を確認して原因を区別する
	n, err := s.GetByID(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.RecipientID != recipientID {
		return Notification{}, ErrNotOwner
	}
	return n, nil
}

// MarkAllRead は受信者の全未読通知を既読にして更新件数を返す。
// 対象が存在しない場合は0を返し、エラーとしない。
func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = ?, read_at = ? WHERE recipient_id = ? AND status = ?",
		StatusRead, time.Now().UTC(), recipientID, StatusUnread)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読化に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新行数の取得に失敗: %w", err)
	}
	return int(affected), nil
}

// Archive は受信者の通知をアーカイブして更新後の通知を返す。
// 未読・既読どちらの状態からも遷移でき、アーカイブ済みの場合は
// 現在の通知をそのまま返す（冪等）。
func (s *Store) Archive(ctx context.Context, recipientID, id string) (Notification, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = ?, archived_at = ? WHERE id = ? AND recipient_id = ? AND status != ?",
		StatusArchived, time.Now().UTC(), id, recipientID, StatusArchived)
	if err != nil {
		return Notification{}, fmt.Errorf("通知のアーカイブに失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Notification{}, fmt.Errorf("更新行数の取得に失敗: %w", err)
	}
	if affected > 0 {
		return s.GetByID(ctx, id)
	}

	n, err := s.GetByID(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.RecipientID != recipientID {
		return Notification{}, ErrNotOwner
	}
	return n, nil
}

// CreateEventReminder はスケジューラーからのリマインド通知作成を受け付ける。
// 重複はエラーではなくcreated=falseとして返す。
func (s *Store) CreateEventReminder(ctx context.Context, r scheduler.Reminder) (bool, error) {
	_, err := s.Create(ctx, CreateParams{
		RecipientID:       r.RecipientID,
		Type:              TypeEventReminder,
		Title:             r.Title,
		Message:           r.Message,
		RelatedEventID:    &r.EventID,
		ReminderLeadHours: &r.LeadHours,
	})
	if errors.Is(err, ErrDuplicateReminder) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

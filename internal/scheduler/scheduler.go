package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nao1215/eventhub/pkg/event"
)

// EventSource はリマインド対象の取得元を表すインターフェース。
// 本番ではイベントカタログサービスへのHTTPクライアントが実装する。
type EventSource interface {
	// UpcomingEvents はfromからtoまでの間に開始する公開済みイベントを返す。
	UpcomingEvents(ctx context.Context, from, to time.Time) ([]event.Event, error)
	// EligibleRecipients は指定イベントのリマインド対象者を返す。
	EligibleRecipients(ctx context.Context, eventID string) ([]event.Recipient, error)
}

// Reminder はスケジューラーが作成を依頼するリマインド通知の内容。
type Reminder struct {
	// RecipientID は通知先ユーザーのID。
	RecipientID string
	// EventID は対象イベントのID。
	EventID string
	// LeadHours は適用されたリマインド時間（イベント開始の何時間前か）。
	LeadHours int
	// Title は通知のタイトル。
	Title string
	// Message は通知の本文。
	Message string
}

// ReminderStore はリマインド通知の保存先を表すインターフェース。
type ReminderStore interface {
	// CreateEventReminder はリマインド通知を作成する。
	// 同一のリマインドが既に存在する場合は作成せずfalseを返す。
	CreateEventReminder(ctx context.Context, r Reminder) (bool, error)
}

// Options はスケジューラーの動作設定。ゼロ値のフィールドにはデフォルト値が適用される。
type Options struct {
	// Schedule はtickを実行するcronスケジュール（標準5フィールド形式）。
	Schedule string
	// LookaheadHours はtickごとに先読みするイベントの範囲（時間単位）。
	LookaheadHours int
	// DefaultLeadHours は対象者がリマインド時間を設定していない場合の既定値。
	DefaultLeadHours int
	// DedupRetention はプロセス内の重複排除記録の保持期間。
	DedupRetention time.Duration
	// WindowHours はリマインド判定ウィンドウの幅（時間単位）。
	// 0以下の場合はcronスケジュールのtick間隔から導出する。
	WindowHours int
}

// ErrAlreadyRunning は前回のtickが実行中のため新しいtickを開始できないことを表す。
var ErrAlreadyRunning = errors.New("スケジューラーは既に実行中です")

// tickTimeout は1回のtick全体に適用するタイムアウト。
const tickTimeout = 2 * time.Minute

// Scheduler はリマインド通知を定期生成するスケジューラー。
// cronによる定期実行と内部APIからの手動実行の両方に対応する。
type Scheduler struct {
	// source はイベントと対象者の取得元。
	source EventSource
	// store はリマインド通知の保存先。
	store ReminderStore
	// now は現在時刻を返す関数。テストで固定時刻を注入するために差し替え可能。
	now func() time.Time
	// opts はデフォルト適用済みの動作設定。
	opts Options
	// cron は定期実行用のcronランナー。Startが呼ばれるまでnil。
	cron *cron.Cron
	// running はtickの直列実行を保証するフラグ。
	running atomic.Bool
	// dedup はプロセス内の重複排除記録。tickの直列実行により保護される。
	dedup *dedupRecord
}

// New は新しいSchedulerを生成する。
// Optionsのゼロ値フィールドにはデフォルト値（15分間隔、先読み48時間、
// リマインド24時間前、記録保持24時間）を適用する。
func New(source EventSource, store ReminderStore, now func() time.Time, opts Options) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("EventSourceが指定されていません")
	}
	if store == nil {
		return nil, errors.New("ReminderStoreが指定されていません")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Schedule == "" {
		opts.Schedule = "*/15 * * * *"
	}
	if opts.LookaheadHours <= 0 {
		opts.LookaheadHours = 48
	}
	if opts.DefaultLeadHours <= 0 {
		opts.DefaultLeadHours = 24
	}
	if opts.DedupRetention <= 0 {
		opts.DedupRetention = 24 * time.Hour
	}

	schedule, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("スケジュール %q の解析に失敗: %w", opts.Schedule, err)
	}
	if opts.WindowHours <= 0 {
		opts.WindowHours = windowFromSchedule(schedule)
	}

	return &Scheduler{
		source: source,
		store:  store,
		now:    now,
		opts:   opts,
		dedup:  newDedupRecord(opts.DedupRetention, now()),
	}, nil
}

// windowFromSchedule はcronスケジュールの連続する2回の実行時刻から
// tick間隔を求め、時間単位に切り上げてウィンドウ幅とする。最小値は1時間。
func windowFromSchedule(schedule cron.Schedule) int {
	first := schedule.Next(time.Now())
	second := schedule.Next(first)
	window := int(math.Ceil(second.Sub(first).Hours()))
	if window < 1 {
		return 1
	}
	return window
}

// Start はcronによる定期実行を開始する。
func (s *Scheduler) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.opts.Schedule, func() {
		// 実行中スキップはRunNow側でログ済みのため、それ以外のエラーだけ記録する
		if err := s.RunNow(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.Printf("[Scheduler] tick実行エラー: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("スケジュール %q の登録に失敗: %w", s.opts.Schedule, err)
	}
	s.cron = c
	c.Start()
	log.Printf("[Scheduler] スケジューラーを開始します。スケジュール: %s, 判定ウィンドウ: %d時間", s.opts.Schedule, s.opts.WindowHours)
	return nil
}

// Stop は定期実行を停止し、実行中のtickの完了を待つ。
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("[Scheduler] スケジューラーを停止しました")
}

// RunNow は1回のtickを即時実行する。cronの定期実行と内部APIの手動実行が共用する。
// 前回のtickが実行中の場合は何もせずErrAlreadyRunningを返す。
func (s *Scheduler) RunNow() error {
	if !s.running.CompareAndSwap(false, true) {
		log.Println("[Scheduler] 前回のtickが実行中のため今回の実行をスキップします")
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	return s.runTick()
}

// runTick は1回のtickを実行する。開催予定イベントと対象者を取得し、
// リマインド時間のウィンドウに入った組み合わせに通知を作成する。
// 対象者取得や通知作成の失敗はそのイベント・対象者だけをスキップし、tick全体は続行する。
func (s *Scheduler) runTick() error {
	start := time.Now()
	now := s.now()

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	events, err := s.source.UpcomingEvents(ctx, now, now.Add(time.Duration(s.opts.LookaheadHours)*time.Hour))
	if err != nil {
		return fmt.Errorf("開催予定イベントの取得に失敗: %w", err)
	}

	var due, created, duplicates, failures int
	for _, ev := range events {
		recipients, err := s.source.EligibleRecipients(ctx, ev.ID)
		if err != nil {
			log.Printf("[Scheduler] リマインド対象者の取得エラー (event_id=%s): %v", ev.ID, err)
			failures++
			continue
		}

		hoursUntil := ev.HoursUntilStart(now)
		for _, r := range recipients {
			lead := r.LeadHours(s.opts.DefaultLeadHours)
			if !isDue(hoursUntil, lead, s.opts.WindowHours) {
				continue
			}
			due++

			key := dedupKey{eventID: ev.ID, recipientID: r.UserID, leadHours: lead}
			if s.dedup.seen(key) {
				duplicates++
				continue
			}

			ok, err := s.store.CreateEventReminder(ctx, s.buildReminder(ev, r, lead))
			if err != nil {
				// 記録しないことで次回tickのウィンドウ内で再試行される
				log.Printf("[Scheduler] リマインド通知の作成エラー (event_id=%s, recipient_id=%s): %v", ev.ID, r.UserID, err)
				failures++
				continue
			}
			s.dedup.record(key, now)
			if ok {
				created++
			} else {
				duplicates++
			}
		}
	}

	if s.dedup.sweep(now) {
		log.Printf("[Scheduler] 重複排除記録を消去しました（保持期間: %v）", s.opts.DedupRetention)
	}

	log.Printf("[Scheduler] tick完了: イベント%d件, 対象%d件, 作成%d件, 重複%d件, 失敗%d件 (%v)",
		len(events), due, created, duplicates, failures, time.Since(start).Round(time.Millisecond))
	return nil
}

// isDue はイベント開始までの残り時間がリマインド判定ウィンドウに入っているかを返す。
// ウィンドウは (leadHours - windowHours, leadHours] の半開区間で、開始済みイベントは対象外。
func isDue(hoursUntil float64, leadHours, windowHours int) bool {
	return hoursUntil > 0 &&
		hoursUntil <= float64(leadHours) &&
		hoursUntil > float64(leadHours-windowHours)
}

// buildReminder はイベントと対象者からリマインド通知の内容を組み立てる。
func (s *Scheduler) buildReminder(ev event.Event, r event.Recipient, lead int) Reminder {
	message := fmt.Sprintf("「%s」は %s に開始します。", ev.Title, ev.StartsAt.Format("2006-01-02 15:04"))
	if ev.Location != "" {
		message += fmt.Sprintf(" 会場: %s", ev.Location)
	}
	return Reminder{
		RecipientID: r.UserID,
		EventID:     ev.ID,
		LeadHours:   lead,
		Title:       fmt.Sprintf("まもなく開催: %s", ev.Title),
		Message:     message,
	}
}

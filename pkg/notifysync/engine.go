package notifysync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nao1215/eventhub/pkg/client"
)

const (
	// defaultPollInterval は未読件数ポーリングの既定間隔。
	defaultPollInterval = 30 * time.Second
	// defaultPageSize は一覧取得の既定ページサイズ。
	defaultPageSize = 20
)

// Doer は同期エンジンが必要とするAPI操作。*client.Clientが実装する。
type Doer interface {
	// ListNotifications は通知一覧の1ページを取得する。
	ListNotifications(ctx context.Context, opts client.ListOptions) (*client.ListResult, error)
	// UnreadCount は未読件数を取得する。
	UnreadCount(ctx context.Context) (int, error)
	// MarkRead は通知を既読にする。
	MarkRead(ctx context.Context, id string) (*client.Notification, error)
	// MarkAllRead は未読の通知をすべて既読にする。
	MarkAllRead(ctx context.Context) (int, error)
	// Archive は通知をアーカイブする。
	Archive(ctx context.Context, id string) (*client.Notification, error)
}

// Options はエンジンの動作設定。
type Options struct {
	// PollInterval は未読件数ポーリングの間隔。0以下の場合は30秒。
	PollInterval time.Duration
	// PageSize は一覧取得の1ページあたりの件数。0以下の場合は20。
	PageSize int
}

// Engine は通知キャッシュをサーバーと同期する。
// すべてのメソッドは非ブロッキングで、I/Oはバックグラウンドで実行される。
type Engine struct {
	api  Doer
	opts Options

	// onChange は状態が変わるたびにスナップショットを受け取る。
	// 内部ロックを保持したまま呼ばれるため、onChangeの中から
	// エンジンのメソッドを呼んではならない。
	onChange func(State)

	mu          sync.Mutex
	state       State
	listCancel  context.CancelFunc
	countCancel context.CancelFunc
	polling     bool
	closed      bool
	stopCh      chan struct{}
}

// New は同期エンジンを生成する。
func New(api Doer, onChange func(State), opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Engine{
		api:      api,
		opts:     opts,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
}

// State は現在のキャッシュのスナップショットを返す。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// dispatch はアクションを適用してリスナーへ通知する。muを保持して呼ぶこと。
// Close後に完了した取得は捨てる。
func (e *Engine) dispatch(a action) {
	if e.closed {
		return
	}
	e.state = reduce(e.state, a)
	if e.onChange != nil {
		e.onChange(e.state)
	}
}

// Start は未読件数のポーリングを開始する。起動直後に一度取得し、
// 以後は設定間隔で更新する。ctxの取り消しかCloseで停止する。
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.closed || e.polling {
		e.mu.Unlock()
		return
	}
	e.polling = true
	e.mu.Unlock()

	e.RefreshCount(ctx)

	go func() {
		ticker := time.NewTicker(e.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.RefreshCount(ctx)
			}
		}
	}()
}

// RefreshCount は未読件数を取得し直す。進行中の更新があれば何もしない。
// 一覧は取得しないため、パネルを閉じていても転送は件数だけで済む。
func (e *Engine) RefreshCount(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state.CountRefreshing {
		return
	}

	e.dispatch(countRequested{})
	seq := e.state.countSeq

	fetchCtx, cancel := context.WithCancel(ctx)
	e.countCancel = cancel

	go func() {
		defer cancel()
		n, err := e.api.UnreadCount(fetchCtx)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.dispatch(countFailed{seq: seq})
			return
		}
		e.dispatch(countRefreshed{seq: seq, n: n})
	}()
}

// OpenList はパネル表示時の一覧取得。1ページ目を取得する。
func (e *Engine) OpenList(ctx context.Context) {
	e.Refresh(ctx)
}

// Refresh は一覧の1ページ目を取得し直す。進行中の一覧取得があれば
// 打ち切り、新しいリクエストを優先する。
func (e *Engine) Refresh(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	// 打ち切られた取得が完了してもseqの検査で捨てられるが、
	// 無駄な転送は早めに止める
	if e.listCancel != nil {
		e.listCancel()
	}

	e.dispatch(listRequested{})
	seq := e.state.listSeq

	fetchCtx, cancel := context.WithCancel(ctx)
	e.listCancel = cancel

	go func() {
		defer cancel()
		result, err := e.api.ListNotifications(fetchCtx, client.ListOptions{Page: 1, Limit: e.opts.PageSize})

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			e.dispatch(listFailed{seq: seq, err: err})
			return
		}
		e.dispatch(listLoaded{seq: seq, items: result.Notifications, pagination: result.Pagination})
	}()
}

// LoadMore は次のページを取得して一覧の末尾に追加する。
// 一覧の取得が進行中の場合と次のページがない場合は何もしない。
func (e *Engine) LoadMore(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.state.Loaded || e.state.ListLoading || e.state.MoreLoading || !e.state.Pagination.HasMore {
		return
	}

	e.dispatch(moreRequested{})
	seq := e.state.listSeq
	page := e.state.Pagination.CurrentPage + 1

	fetchCtx, cancel := context.WithCancel(ctx)
	e.listCancel = cancel

	go func() {
		defer cancel()
		result, err := e.api.ListNotifications(fetchCtx, client.ListOptions{Page: page, Limit: e.opts.PageSize})

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			e.dispatch(moreFailed{seq: seq, err: err})
			return
		}
		e.dispatch(moreLoaded{seq: seq, items: result.Notifications, pagination: result.Pagination})
	}()
}

// MarkRead は通知を楽観的に既読へ反映してからサーバーに反映する。
// 失敗した場合は元の状態へ巻き戻し、LastErrorに記録する。
// キャッシュ上で未読でない通知には何もしない。
func (e *Engine) MarkRead(ctx context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	idx := indexOf(e.state.Items, id)
	if idx < 0 || e.state.Items[idx].Status != client.StatusUnread {
		return
	}
	prior := e.state.Items[idx].Status

	e.dispatch(optimisticRead{id: id})

	go func() {
		n, err := e.api.MarkRead(ctx, id)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.dispatch(readRolledBack{id: id, prior: prior, err: err})
			return
		}
		e.dispatch(readConfirmed{id: id, item: *n})
	}()
}

// MarkAllRead はキャッシュ上の未読を楽観的に既読へ反映してから
// サーバーに反映する。失敗した場合は反映前のスナップショットで
// 巻き戻す。未読がなければ何もしない。
func (e *Engine) MarkAllRead(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	snapshot := make(map[string]string)
	for _, item := range e.state.Items {
		if item.Status == client.StatusUnread {
			snapshot[item.ID] = item.Status
		}
	}
	// キャッシュ外のページに未読が残っている場合もあるため、
	// バッジが未読を示している間はサーバーへ送る
	if len(snapshot) == 0 && e.state.UnreadCount == 0 {
		return
	}

	e.dispatch(optimisticReadAll{snapshot: snapshot})

	go func() {
		updated, err := e.api.MarkAllRead(ctx)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.dispatch(readAllRolledBack{snapshot: snapshot, err: err})
			return
		}
		e.dispatch(readAllConfirmed{updated: updated})
	}()
}

// Archive は通知をアーカイブする。アーカイブは取り消せないため
// 楽観的反映はせず、サーバーの成功後にキャッシュへ反映する。
func (e *Engine) Archive(ctx context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	idx := indexOf(e.state.Items, id)
	if idx < 0 || e.state.Items[idx].Status == client.StatusArchived {
		return
	}

	go func() {
		n, err := e.api.Archive(ctx, id)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.dispatch(archiveFailed{err: err})
			return
		}
		e.dispatch(archived{id: id, item: *n})
	}()
}

// ClearError はエラー表示を解除する。
func (e *Engine) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state.LastError == nil {
		return
	}
	e.dispatch(errorCleared{})
}

// Close はポーリングと進行中の取得をすべて打ち切る。
// 以後のメソッド呼び出しは何もしない。
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.stopCh)
	if e.listCancel != nil {
		e.listCancel()
	}
	if e.countCancel != nil {
		e.countCancel()
	}
}

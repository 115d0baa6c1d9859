package notifysync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/eventhub/pkg/client"
)

// fakeAPI はDoerのテスト用実装。呼び出しを記録し、差し替え可能な関数へ
// 委譲する。関数が未設定の操作は成功として扱う。
type fakeAPI struct {
	mu            sync.Mutex
	listCalls     []client.ListOptions
	countCalls    int
	markReadCalls []string
	markAllCalls  int
	archiveCalls  []string

	listFn     func(opts client.ListOptions) (*client.ListResult, error)
	countFn    func() (int, error)
	markReadFn func(id string) (*client.Notification, error)
	markAllFn  func() (int, error)
	archiveFn  func(id string) (*client.Notification, error)
}

func (f *fakeAPI) ListNotifications(_ context.Context, opts client.ListOptions) (*client.ListResult, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, opts)
	fn := f.listFn
	f.mu.Unlock()
	if fn == nil {
		return &client.ListResult{}, nil
	}
	return fn(opts)
}

func (f *fakeAPI) UnreadCount(_ context.Context) (int, error) {
	f.mu.Lock()
	f.countCalls++
	fn := f.countFn
	f.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn()
}

func (f *fakeAPI) MarkRead(_ context.Context, id string) (*client.Notification, error) {
	f.mu.Lock()
	f.markReadCalls = append(f.markReadCalls, id)
	fn := f.markReadFn
	f.mu.Unlock()
	if fn == nil {
		n := makeItem(id, client.StatusRead)
		return &n, nil
	}
	return fn(id)
}

func (f *fakeAPI) MarkAllRead(_ context.Context) (int, error) {
	f.mu.Lock()
	f.markAllCalls++
	fn := f.markAllFn
	f.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn()
}

func (f *fakeAPI) Archive(_ context.Context, id string) (*client.Notification, error) {
	f.mu.Lock()
	f.archiveCalls = append(f.archiveCalls, id)
	fn := f.archiveFn
	f.mu.Unlock()
	if fn == nil {
		n := makeItem(id, client.StatusArchived)
		return &n, nil
	}
	return fn(id)
}

func (f *fakeAPI) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listCalls)
}

func (f *fakeAPI) countCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countCalls
}

func (f *fakeAPI) markReadCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.markReadCalls)
}

func (f *fakeAPI) markAllCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markAllCalls
}

// stateRecorder はonChangeへ渡されたスナップショットを記録する。
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

// waitFor は最新の状態が条件を満たすまで待つ。
func (r *stateRecorder) waitFor(t *testing.T, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		r.mu.Lock()
		if n := len(r.states); n > 0 && cond(r.states[n-1]) {
			s := r.states[n-1]
			r.mu.Unlock()
			return s
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("状態の変化を待ち切れなかった")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// saw は条件を満たす状態が一度でも通知されたかどうかを返す。
func (r *stateRecorder) saw(cond func(State) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if cond(s) {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, api *fakeAPI, opts Options) (*Engine, *stateRecorder) {
	t.Helper()
	rec := &stateRecorder{}
	e := New(api, rec.record, opts)
	t.Cleanup(e.Close)
	return e, rec
}

func TestEngineRefresh(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		listFn: func(client.ListOptions) (*client.ListResult, error) {
			return &client.ListResult{
				Notifications: []client.Notification{
					makeItem("n1", client.StatusUnread),
					makeItem("n2", client.StatusRead),
				},
				Pagination: client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 2},
			}, nil
		},
	}
	e, rec := newTestEngine(t, api, Options{})

	e.Refresh(testContext(t))

	s := rec.waitFor(t, func(s State) bool { return s.Loaded && !s.ListLoading })
	if len(s.Items) != 2 {
		t.Errorf("件数: got %d, want 2", len(s.Items))
	}
	if !rec.saw(func(s State) bool { return s.ListLoading }) {
		t.Error("読み込み中の状態が通知されていない")
	}

	api.mu.Lock()
	opts := api.listCalls[0]
	api.mu.Unlock()
	if opts.Page != 1 || opts.Limit != defaultPageSize {
		t.Errorf("取得条件: got %+v", opts)
	}
}

func TestEngineRefreshSupersedes(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	gate := make(chan struct{})
	var mu sync.Mutex
	call := 0
	api := &fakeAPI{
		listFn: func(client.ListOptions) (*client.ListResult, error) {
			mu.Lock()
			call++
			n := call
			mu.Unlock()
			if n == 1 {
				close(started)
				<-gate
				return &client.ListResult{
					Notifications: []client.Notification{makeItem("old", client.StatusUnread)},
					Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 1},
				}, nil
			}
			return &client.ListResult{
				Notifications: []client.Notification{makeItem("new", client.StatusUnread)},
				Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 1},
			}, nil
		},
	}
	e, rec := newTestEngine(t, api, Options{})

	e.Refresh(testContext(t))
	<-started
	e.Refresh(testContext(t))

	rec.waitFor(t, func(s State) bool {
		return s.Loaded && len(s.Items) == 1 && s.Items[0].ID == "new"
	})

	// 打ち切られた1回目の応答を返しても最新の結果は上書きされない
	close(gate)
	time.Sleep(50 * time.Millisecond)

	if got := e.State().Items[0].ID; got != "new" {
		t.Errorf("古い応答で上書きされた: got %s, want new", got)
	}
}

func TestEngineLoadMore(t *testing.T) {
	t.Parallel()

	t.Run("次のページを末尾に追加する", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{
			listFn: func(opts client.ListOptions) (*client.ListResult, error) {
				if opts.Page == 1 {
					return &client.ListResult{
						Notifications: []client.Notification{
							makeItem("n1", client.StatusUnread),
							makeItem("n2", client.StatusRead),
						},
						Pagination: client.Pagination{CurrentPage: 1, TotalPages: 2, TotalCount: 4, HasMore: true},
					}, nil
				}
				return &client.ListResult{
					Notifications: []client.Notification{
						makeItem("n2", client.StatusRead), // ページ境界の重複
						makeItem("n3", client.StatusUnread),
					},
					Pagination: client.Pagination{CurrentPage: 2, TotalPages: 2, TotalCount: 4, HasMore: false},
				}, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{PageSize: 2})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })

		e.LoadMore(testContext(t))
		s := rec.waitFor(t, func(s State) bool { return !s.MoreLoading && len(s.Items) == 3 })

		wantOrder := []string{"n1", "n2", "n3"}
		for i, want := range wantOrder {
			if s.Items[i].ID != want {
				t.Errorf("並び順[%d]: got %s, want %s", i, s.Items[i].ID, want)
			}
		}
		if s.Pagination.HasMore {
			t.Error("最終ページの後もHasMoreが立っている")
		}

		// 次のページがなければ取得しない
		e.LoadMore(testContext(t))
		time.Sleep(50 * time.Millisecond)
		if got := api.listCallCount(); got != 2 {
			t.Errorf("一覧の取得回数: got %d, want 2", got)
		}
	})

	t.Run("取得が進行中なら重ねて取得しない", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		gate := make(chan struct{})
		api := &fakeAPI{
			listFn: func(opts client.ListOptions) (*client.ListResult, error) {
				if opts.Page == 1 {
					return &client.ListResult{
						Notifications: []client.Notification{makeItem("n1", client.StatusUnread)},
						Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 2, TotalCount: 2, HasMore: true},
					}, nil
				}
				close(started)
				<-gate
				return &client.ListResult{
					Notifications: []client.Notification{makeItem("n2", client.StatusUnread)},
					Pagination:    client.Pagination{CurrentPage: 2, TotalPages: 2, TotalCount: 2, HasMore: false},
				}, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{PageSize: 1})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })

		e.LoadMore(testContext(t))
		<-started
		e.LoadMore(testContext(t))
		close(gate)

		rec.waitFor(t, func(s State) bool { return len(s.Items) == 2 })
		if got := api.listCallCount(); got != 2 {
			t.Errorf("一覧の取得回数: got %d, want 2", got)
		}
	})
}

func TestEngineCountPolling(t *testing.T) {
	t.Parallel()

	t.Run("起動直後に取得し以後は間隔ごとに更新する", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		count := 3
		api := &fakeAPI{
			countFn: func() (int, error) {
				mu.Lock()
				defer mu.Unlock()
				return count, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{PollInterval: 20 * time.Millisecond})

		e.Start(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.UnreadCount == 3 })

		mu.Lock()
		count = 5
		mu.Unlock()
		rec.waitFor(t, func(s State) bool { return s.UnreadCount == 5 })

		e.Close()
		// 停止直前に始まった取得が収まるのを待ってから数える
		time.Sleep(30 * time.Millisecond)
		calls := api.countCallCount()
		time.Sleep(60 * time.Millisecond)
		if got := api.countCallCount(); got != calls {
			t.Errorf("停止後も取得が続いている: got %d, want %d", got, calls)
		}
	})

	t.Run("更新が進行中なら重ねて取得しない", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		gate := make(chan struct{})
		api := &fakeAPI{
			countFn: func() (int, error) {
				close(started)
				<-gate
				return 1, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.RefreshCount(testContext(t))
		<-started
		e.RefreshCount(testContext(t))
		close(gate)

		rec.waitFor(t, func(s State) bool { return s.UnreadCount == 1 })
		if got := api.countCallCount(); got != 1 {
			t.Errorf("件数の取得回数: got %d, want 1", got)
		}
	})
}

func TestEngineMarkRead(t *testing.T) {
	t.Parallel()

	listFn := func(client.ListOptions) (*client.ListResult, error) {
		return &client.ListResult{
			Notifications: []client.Notification{makeItem("n1", client.StatusUnread)},
			Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 1},
		}, nil
	}

	t.Run("楽観的反映はサーバーの応答を待たない", func(t *testing.T) {
		t.Parallel()

		gate := make(chan struct{})
		api := &fakeAPI{
			listFn:  listFn,
			countFn: func() (int, error) { return 1, nil },
			markReadFn: func(id string) (*client.Notification, error) {
				<-gate
				readAt := time.Now().UTC()
				n := makeItem(id, client.StatusRead)
				n.ReadAt = &readAt
				return &n, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })
		e.RefreshCount(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.UnreadCount == 1 })

		e.MarkRead(testContext(t), "n1")

		// サーバーがまだ応答していなくてもキャッシュは既読を示す
		s := e.State()
		if s.Items[0].Status != client.StatusRead {
			t.Errorf("状態: got %s, want %s", s.Items[0].Status, client.StatusRead)
		}
		if s.UnreadCount != 0 {
			t.Errorf("未読件数: got %d, want 0", s.UnreadCount)
		}

		close(gate)
		rec.waitFor(t, func(s State) bool { return s.Items[0].ReadAt != nil })
	})

	t.Run("失敗で元の状態へ巻き戻る", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{
			listFn:  listFn,
			countFn: func() (int, error) { return 1, nil },
			markReadFn: func(string) (*client.Notification, error) {
				return nil, errors.New("サーバーエラー")
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })
		e.RefreshCount(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.UnreadCount == 1 })

		e.MarkRead(testContext(t), "n1")

		s := rec.waitFor(t, func(s State) bool { return s.LastError != nil })
		if s.Items[0].Status != client.StatusUnread {
			t.Errorf("状態: got %s, want %s", s.Items[0].Status, client.StatusUnread)
		}
		if s.UnreadCount != 1 {
			t.Errorf("未読件数: got %d, want 1", s.UnreadCount)
		}
	})

	t.Run("未読でない通知はサーバーへ送らない", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{
			listFn: func(client.ListOptions) (*client.ListResult, error) {
				return &client.ListResult{
					Notifications: []client.Notification{makeItem("n1", client.StatusRead)},
					Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 1},
				}, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })

		e.MarkRead(testContext(t), "n1")
		time.Sleep(50 * time.Millisecond)

		if got := api.markReadCallCount(); got != 0 {
			t.Errorf("既読化の呼び出し回数: got %d, want 0", got)
		}
	})
}

func TestEngineMarkAllRead(t *testing.T) {
	t.Parallel()

	t.Run("失敗による巻き戻しは進行中のアーカイブを壊さない", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		gate := make(chan struct{})
		api := &fakeAPI{
			listFn: func(client.ListOptions) (*client.ListResult, error) {
				return &client.ListResult{
					Notifications: []client.Notification{
						makeItem("n1", client.StatusUnread),
						makeItem("n2", client.StatusUnread),
						makeItem("n3", client.StatusUnread),
					},
					Pagination: client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 3},
				}, nil
			},
			countFn: func() (int, error) { return 3, nil },
			markAllFn: func() (int, error) {
				close(started)
				<-gate
				return 0, errors.New("サーバーエラー")
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })
		e.RefreshCount(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.UnreadCount == 3 })

		e.MarkAllRead(testContext(t))
		<-started

		s := e.State()
		if s.UnreadCount != 0 {
			t.Fatalf("楽観的反映後の未読件数: got %d, want 0", s.UnreadCount)
		}

		// 反映中にn2をアーカイブする
		e.Archive(testContext(t), "n2")
		rec.waitFor(t, func(s State) bool { return s.Items[1].Status == client.StatusArchived })

		close(gate)
		s = rec.waitFor(t, func(s State) bool { return s.LastError != nil })

		want := map[string]string{
			"n1": client.StatusUnread,
			"n2": client.StatusArchived,
			"n3": client.StatusUnread,
		}
		for id, status := range statuses(s.Items) {
			if status != want[id] {
				t.Errorf("%s: got %s, want %s", id, status, want[id])
			}
		}
		if s.UnreadCount != 2 {
			t.Errorf("未読件数: got %d, want 2", s.UnreadCount)
		}
	})

	t.Run("未読がなければサーバーへ送らない", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{
			listFn: func(client.ListOptions) (*client.ListResult, error) {
				return &client.ListResult{
					Notifications: []client.Notification{makeItem("n1", client.StatusRead)},
					Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 1},
				}, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })

		e.MarkAllRead(testContext(t))
		time.Sleep(50 * time.Millisecond)

		if got := api.markAllCallCount(); got != 0 {
			t.Errorf("全件既読化の呼び出し回数: got %d, want 0", got)
		}
	})
}

func TestEngineArchive(t *testing.T) {
	t.Parallel()

	t.Run("サーバーの成功後にキャッシュへ反映する", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		gate := make(chan struct{})
		api := &fakeAPI{
			listFn: func(client.ListOptions) (*client.ListResult, error) {
				return &client.ListResult{
					Notifications: []client.Notification{makeItem("n1", client.StatusUnread)},
					Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 1},
				}, nil
			},
			archiveFn: func(id string) (*client.Notification, error) {
				close(started)
				<-gate
				now := time.Now().UTC()
				n := makeItem(id, client.StatusArchived)
				n.ArchivedAt = &now
				return &n, nil
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })

		e.Archive(testContext(t), "n1")
		<-started

		// アーカイブは楽観的に反映しない
		if got := e.State().Items[0].Status; got != client.StatusUnread {
			t.Errorf("応答前に状態が変わっている: got %s", got)
		}

		close(gate)
		s := rec.waitFor(t, func(s State) bool { return s.Items[0].Status == client.StatusArchived })
		if s.Items[0].ArchivedAt == nil {
			t.Error("アーカイブ時刻が反映されていない")
		}
	})

	t.Run("失敗はエラーとして表面化する", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{
			listFn: func(client.ListOptions) (*client.ListResult, error) {
				return &client.ListResult{
					Notifications: []client.Notification{makeItem("n1", client.StatusUnread)},
					Pagination:    client.Pagination{CurrentPage: 1, TotalPages: 1, TotalCount: 1},
				}, nil
			},
			archiveFn: func(string) (*client.Notification, error) {
				return nil, errors.New("サーバーエラー")
			},
		}
		e, rec := newTestEngine(t, api, Options{})

		e.Refresh(testContext(t))
		rec.waitFor(t, func(s State) bool { return s.Loaded })

		e.Archive(testContext(t), "n1")

		s := rec.waitFor(t, func(s State) bool { return s.LastError != nil })
		if s.Items[0].Status != client.StatusUnread {
			t.Errorf("失敗後に状態が変わっている: got %s", s.Items[0].Status)
		}
	})
}

func TestEngineClose(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	e, _ := newTestEngine(t, api, Options{})

	e.Close()
	e.Close() // 二重に閉じても何も起きない

	e.Refresh(testContext(t))
	e.RefreshCount(testContext(t))
	time.Sleep(50 * time.Millisecond)

	if got := api.listCallCount(); got != 0 {
		t.Errorf("停止後に一覧が取得されている: %d", got)
	}
	if got := api.countCallCount(); got != 0 {
		t.Errorf("停止後に件数が取得されている: %d", got)
	}
}

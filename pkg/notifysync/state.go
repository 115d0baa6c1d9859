package notifysync

import "github.com/nao1215/eventhub/pkg/client"

// State は同期エンジンが保持するキャッシュのスナップショット。
// reduceが返すStateは不変として扱えるため、描画側はそのまま保持してよい。
type State struct {
	// Items はキャッシュ済みの通知。サーバーの並び(新しい順)を保つ。
	Items []client.Notification
	// Pagination は最後に取得したページのページネーション情報。
	Pagination client.Pagination
	// UnreadCount は未読バッジに表示する件数。
	UnreadCount int
	// Loaded は一覧を一度でも取得したかどうか。
	Loaded bool
	// ListLoading は一覧の取得が進行中かどうか。
	ListLoading bool
	// MoreLoading は追加ページの取得が進行中かどうか。
	MoreLoading bool
	// CountRefreshing は未読件数の更新が進行中かどうか。
	CountRefreshing bool
	// LastError は直近の失敗。取得の成功かClearErrorで消える。
	LastError error

	// listSeq は一覧エンドポイントへ払い出した最新のリクエスト番号。
	listSeq uint64
	// countSeq は未読件数エンドポイントへ払い出した最新のリクエスト番号。
	countSeq uint64
}

// action はキャッシュの状態遷移。reduceだけがStateを変更する。
type action interface {
	isAction()
}

type (
	// listRequested は一覧取得の開始。新しいリクエスト番号を払い出す。
	listRequested struct{}

	// listLoaded は一覧取得の完了。seqが最新でなければ捨てられる。
	listLoaded struct {
		seq        uint64
		items      []client.Notification
		pagination client.Pagination
	}

	// listFailed は一覧取得の失敗。errがnilの場合はキャンセルによる中断。
	listFailed struct {
		seq uint64
		err error
	}

	// moreRequested は追加ページ取得の開始。
	moreRequested struct{}

	// moreLoaded は追加ページ取得の完了。キャッシュ済みのIDと重複する
	// 項目は捨て、既存の並び順は変えない。
	moreLoaded struct {
		seq        uint64
		items      []client.Notification
		pagination client.Pagination
	}

	// moreFailed は追加ページ取得の失敗。
	moreFailed struct {
		seq uint64
		err error
	}

	// countRequested は未読件数更新の開始。
	countRequested struct{}

	// countRefreshed は未読件数更新の完了。
	countRefreshed struct {
		seq uint64
		n   int
	}

	// countFailed は未読件数更新の失敗。次のポーリングで再試行されるため
	// エラーとしては表面化させない。
	countFailed struct {
		seq uint64
	}

	// optimisticRead は既読化の楽観的反映。
	optimisticRead struct {
		id string
	}

	// readConfirmed はサーバー側の既読化成功。
	readConfirmed struct {
		id   string
		item client.Notification
	}

	// readRolledBack はサーバー側の既読化失敗による巻き戻し。
	readRolledBack struct {
		id    string
		prior string
		err   error
	}

	// optimisticReadAll は全件既読化の楽観的反映。snapshotは反映する
	// 未読通知の反映前の状態(ID→状態)を記録する。
	optimisticReadAll struct {
		snapshot map[string]string
	}

	// readAllConfirmed はサーバー側の全件既読化成功。
	readAllConfirmed struct {
		updated int
	}

	// readAllRolledBack はサーバー側の全件既読化失敗による巻き戻し。
	readAllRolledBack struct {
		snapshot map[string]string
		err      error
	}

	// archived はサーバー側のアーカイブ成功。
	archived struct {
		id   string
		item client.Notification
	}

	// archiveFailed はアーカイブの失敗。
	archiveFailed struct {
		err error
	}

	// errorCleared はエラー表示の解除。
	errorCleared struct{}
)

func (listRequested) isAction()     {}
func (listLoaded) isAction()        {}
func (listFailed) isAction()        {}
func (moreRequested) isAction()     {}
func (moreLoaded) isAction()        {}
func (moreFailed) isAction()        {}
func (countRequested) isAction()    {}
func (countRefreshed) isAction()    {}
func (countFailed) isAction()       {}
func (optimisticRead) isAction()    {}
func (readConfirmed) isAction()     {}
func (readRolledBack) isAction()    {}
func (optimisticReadAll) isAction() {}
func (readAllConfirmed) isAction()  {}
func (readAllRolledBack) isAction() {}
func (archived) isAction()          {}
func (archiveFailed) isAction()     {}
func (errorCleared) isAction()      {}

// reduce は1つのアクションを適用した新しいStateを返す。
// 入力のStateとItemsスライスは変更しない。
func reduce(s State, a action) State {
	switch a := a.(type) {
	case listRequested:
		s.listSeq++
		s.ListLoading = true
		// 新しい一覧取得は進行中の追加ページ取得を置き換える
		s.MoreLoading = false
		return s

	case listLoaded:
		if a.seq != s.listSeq {
			return s
		}
		s.Items = a.items
		s.Pagination = a.pagination
		s.Loaded = true
		s.ListLoading = false
		s.LastError = nil
		return s

	case listFailed:
		if a.seq != s.listSeq {
			return s
		}
		s.ListLoading = false
		if a.err != nil {
			s.LastError = a.err
		}
		return s

	case moreRequested:
		s.listSeq++
		s.MoreLoading = true
		return s

	case moreLoaded:
		if a.seq != s.listSeq {
			return s
		}
		s.Items = appendNew(s.Items, a.items)
		s.Pagination = a.pagination
		s.MoreLoading = false
		s.LastError = nil
		return s

	case moreFailed:
		if a.seq != s.listSeq {
			return s
		}
		s.MoreLoading = false
		if a.err != nil {
			s.LastError = a.err
		}
		return s

	case countRequested:
		s.countSeq++
		s.CountRefreshing = true
		return s

	case countRefreshed:
		if a.seq != s.countSeq {
			return s
		}
		s.UnreadCount = a.n
		s.CountRefreshing = false
		return s

	case countFailed:
		if a.seq != s.countSeq {
			return s
		}
		s.CountRefreshing = false
		return s

	case optimisticRead:
		idx := indexOf(s.Items, a.id)
		if idx < 0 || s.Items[idx].Status != client.StatusUnread {
			return s
		}
		items := cloneItems(s.Items)
		items[idx].Status = client.StatusRead
		s.Items = items
		if s.UnreadCount > 0 {
			s.UnreadCount--
		}
		return s

	case readConfirmed:
		idx := indexOf(s.Items, a.id)
		// 楽観的反映のままの項目だけをサーバーの結果で置き換える。
		// 進行中に別の操作で状態が変わった項目には触れない。
		if idx < 0 || s.Items[idx].Status != client.StatusRead {
			return s
		}
		items := cloneItems(s.Items)
		items[idx] = a.item
		s.Items = items
		return s

	case readRolledBack:
		idx := indexOf(s.Items, a.id)
		if idx >= 0 && s.Items[idx].Status == client.StatusRead {
			items := cloneItems(s.Items)
			items[idx].Status = a.prior
			s.Items = items
			if a.prior == client.StatusUnread {
				s.UnreadCount++
			}
		}
		s.LastError = a.err
		return s

	case optimisticReadAll:
		items := cloneItems(s.Items)
		for i := range items {
			if _, ok := a.snapshot[items[i].ID]; ok && items[i].Status == client.StatusUnread {
				items[i].Status = client.StatusRead
			}
		}
		s.Items = items
		s.UnreadCount = 0
		return s

	case readAllConfirmed:
		return s

	case readAllRolledBack:
		items := cloneItems(s.Items)
		restored := 0
		for i := range items {
			prior, ok := a.snapshot[items[i].ID]
			if !ok {
				continue
			}
			// 楽観的反映の結果(READ)のままの項目だけを元に戻す。
			// 進行中にアーカイブされた項目はARCHIVEDのまま残す。
			if items[i].Status != client.StatusRead {
				continue
			}
			items[i].Status = prior
			if prior == client.StatusUnread {
				restored++
			}
		}
		s.Items = items
		s.UnreadCount += restored
		s.LastError = a.err
		return s

	case archived:
		idx := indexOf(s.Items, a.id)
		if idx < 0 {
			return s
		}
		items := cloneItems(s.Items)
		wasUnread := items[idx].Status == client.StatusUnread
		items[idx] = a.item
		s.Items = items
		if wasUnread && s.UnreadCount > 0 {
			s.UnreadCount--
		}
		return s

	case archiveFailed:
		s.LastError = a.err
		return s

	case errorCleared:
		s.LastError = nil
		return s
	}
	return s
}

// indexOf はIDが一致する通知の位置を返す。見つからない場合は-1を返す。
func indexOf(items []client.Notification, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// cloneItems は項目を書き換える前にスライスを複製する。
func cloneItems(items []client.Notification) []client.Notification {
	out := make([]client.Notification, len(items))
	copy(out, items)
	return out
}

// appendNew はexistingの末尾にfreshを追加する。キャッシュ済みのIDは
// 捨て、既存の並び順は変えない。
func appendNew(existing, fresh []client.Notification) []client.Notification {
	seen := make(map[string]bool, len(existing))
	for i := range existing {
		seen[existing[i].ID] = true
	}
	out := make([]client.Notification, len(existing), len(existing)+len(fresh))
	copy(out, existing)
	for i := range fresh {
		if seen[fresh[i].ID] {
			continue
		}
		out = append(out, fresh[i])
	}
	return out
}

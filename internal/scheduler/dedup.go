package scheduler

import "time"

// dedupKey は同一リマインドを識別するキー。
// 同じイベント・同じ対象者・同じリマインド時間の組み合わせは1回だけ通知する。
type dedupKey struct {
	// eventID は対象イベントのID。
	eventID string
	// recipientID は通知先ユーザーのID。
	recipientID string
	// leadHours は適用されたリマインド時間（イベント開始の何時間前か）。
	leadHours int
}

// dedupRecord はプロセス内のリマインド重複排除記録。
// tickはRunNowで直列に実行されるため、このレコードへのアクセスは同期不要。
// プロセス再起動で記録は消えるが、ストレージ側の一意制約が最終的な防波堤となる。
type dedupRecord struct {
	// keys は作成済みリマインドのキーと記録日時。
	keys map[dedupKey]time.Time
	// lastSweep は最後に記録を全消去した日時。
	lastSweep time.Time
	// retention は記録の保持期間。記録は個別に失効させず、保持期間ごとに全消去する。
	retention time.Duration
}

// newDedupRecord は指定した保持期間の重複排除記録を生成する。
func newDedupRecord(retention time.Duration, now time.Time) *dedupRecord {
	return &dedupRecord{
		keys:      make(map[dedupKey]time.Time),
		lastSweep: now,
		retention: retention,
	}
}

// seen はキーが記録済みかどうかを返す。
func (d *dedupRecord) seen(k dedupKey) bool {
	_, ok := d.keys[k]
	return ok
}

// record はキーと記録日時を保存する。
func (d *dedupRecord) record(k dedupKey, now time.Time) {
	d.keys[k] = now
}

// sweep は前回の全消去から保持期間が経過していた場合に全記録を消去し、trueを返す。
func (d *dedupRecord) sweep(now time.Time) bool {
	if now.Sub(d.lastSweep) < d.retention {
		return false
	}
	d.keys = make(map[dedupKey]time.Time)
	d.lastSweep = now
	return true
}

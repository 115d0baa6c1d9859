// Package notifysync は通知一覧と未読バッジのクライアント側キャッシュを
// サーバーと結果整合に保つ同期エンジンを提供する。
//
// キャッシュへの変更はすべてreduceによる純粋な状態遷移として表現する。
// 未読件数ポーリング、画面からの操作、楽観的更新の巻き戻しが並行しても、
// 描画側が中途半端な状態を観測することはない。
package notifysync

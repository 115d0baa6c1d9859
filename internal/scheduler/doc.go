// Package scheduler はイベント開始前のリマインド通知を定期生成するスケジューラーを提供する。
//
// cronスケジュールに従ってtickを実行し、各tickでイベントカタログから開催予定の
// イベントと対象者を取得して、リマインド時間のウィンドウに入った組み合わせに
// 通知を作成する。プロセス内の重複排除記録とストレージの一意制約の二段構えで
// 同一リマインドの重複作成を防ぐ。
package scheduler

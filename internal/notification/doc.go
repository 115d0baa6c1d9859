// Package notification は通知サービスの内部実装を提供する。
//
// イベントのリマインドや参加登録の確定などをユーザーへの通知として
// 保存し、一覧取得・未読件数・既読化・アーカイブのAPIを提供する。
// リマインドスケジューラーのライフサイクルもこのサービスが所有する。
package notification

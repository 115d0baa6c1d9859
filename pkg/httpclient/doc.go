// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。
// イベントカタログからの開催予定イベント取得、通知サービスの内部APIへの
// 通知作成依頼など、サービス間の通信パターンを統一する。
package httpclient

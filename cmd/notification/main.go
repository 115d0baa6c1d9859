// 通知サービスのエントリポイント。
// 参加登録やコメントなどの出来事をユーザーへの通知として保存・配信し、
// バックグラウンドのスケジューラーで開催間近イベントのリマインドを生成する。
package main

import (
	"log"

	"github.com/nao1215/eventhub/internal/notification"
)

func main() {
	cfg, err := notification.LoadConfig()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	server, err := notification.NewServer(cfg)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知サービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}

// notifywatchコマンドはeventhubの通知を端末で監視するツール。
// 未読バッジのポーリングと通知一覧の操作(既読化、アーカイブ)を提供する。
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nao1215/eventhub/pkg/client"
	"github.com/nao1215/eventhub/pkg/credential"
)

// version はビルド時に -ldflags "-X main.version=..." で設定される。
var version = "dev"

// tokenKey はキーリング上のAPIトークンの名前。
const tokenKey = "api-token"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

// readToken は環境変数、OSのキーリングの順でAPIトークンを探す。
func readToken() string {
	if tok := os.Getenv("EVENTHUB_TOKEN"); tok != "" {
		return tok
	}
	tok, err := credential.Get(tokenKey)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(tok)
}

func run() error {
	apiURL := os.Getenv("EVENTHUB_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8086"
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Println("notifywatch " + version)
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "login":
			return runLogin(apiURL)
		case "logout":
			return runLogout()
		default:
			printHelp()
			return fmt.Errorf("不明なコマンド: %s", os.Args[1])
		}
	}

	token := readToken()
	if token == "" {
		fmt.Println("APIトークンが見つかりません。notifywatch login でログインしてください。")
		return nil
	}

	c := client.New(apiURL, token)
	// 認証エラーのときだけ再ログインを促す。一時的な障害なら監視画面が再試行する
	if _, err := c.UnreadCount(context.Background()); err != nil && client.IsUnauthorized(err) {
		fmt.Println("トークンが無効です。notifywatch login でログインし直してください。")
		return nil
	}

	p := tea.NewProgram(newWatchModel(c), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("監視画面の起動に失敗: %w", err)
	}
	return nil
}

// runLogin はAPIトークンを標準入力から読み取り、検証してキーリングへ保存する。
func runLogin(apiURL string) error {
	fmt.Print("APIトークンを入力してください: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("トークンの読み取りに失敗: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return errors.New("トークンが入力されていません")
	}

	// 保存する前にトークンでAPIへアクセスできるか確かめる
	c := client.New(apiURL, token)
	if _, err := c.UnreadCount(context.Background()); err != nil {
		if client.IsUnauthorized(err) {
			return fmt.Errorf("トークンが無効です: %w", err)
		}
		fmt.Printf("検証をスキップしました (サーバーに接続できません): %v\n", err)
	}

	if err := credential.Set(tokenKey, token); err != nil {
		return err
	}
	fmt.Println("トークンを保存しました。notifywatch で通知を監視できます。")
	return nil
}

// runLogout はキーリングからAPIトークンを削除する。
func runLogout() error {
	if err := credential.Delete(tokenKey); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			fmt.Println("ログインしていません。")
			return nil
		}
		return err
	}
	fmt.Println("ログアウトしました。")
	return nil
}

func printHelp() {
	fmt.Println(`notifywatch - eventhub通知の監視ツール

使い方:
  notifywatch          通知の監視画面を開く
  notifywatch login    APIトークンをOSのキーリングへ保存する
  notifywatch logout   保存したトークンを削除する
  notifywatch version  バージョンを表示する
  notifywatch help     このヘルプを表示する

環境変数:
  EVENTHUB_API_URL     通知サービスのURL (既定: http://localhost:8086)
  EVENTHUB_TOKEN       APIトークン (キーリングより優先)

画面の操作:
  j/k     選択の移動
  enter   一覧の再取得
  r       選択した通知を既読にする
  A       すべて既読にする
  x       選択した通知をアーカイブする
  m       次のページを読み込む
  q       終了`)
}

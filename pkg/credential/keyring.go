// Package credential はOSのキーリングを使用したAPIトークンの保存と取得を提供する。
// notifywatchコマンドがログイン時に取得したトークンの永続化に使用する。
package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

// serviceName はキーリング上でeventhubの資格情報を識別するサービス名。
const serviceName = "eventhub"

// ErrNotFound は資格情報が保存されていないことを示す。
var ErrNotFound = keyring.ErrKeyNotFound

// openKeyring は設定済みのキーリングを開く。
// OSネイティブのバックエンドが利用できない環境ではファイルバックエンドを使用する。
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/eventhub/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("eventhub-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("キーリングのオープンに失敗: %w", err)
	}
	return ring, nil
}

// Get はキーリングから資格情報を取得する。
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("資格情報 %q の取得に失敗: %w", key, err)
	}

	return string(item.Data), nil
}

// Set はキーリングに資格情報を保存する。
func Set(key, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("資格情報 %q の保存に失敗: %w", key, err)
	}

	return nil
}

// Delete はキーリングから資格情報を削除する。
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("資格情報 %q の削除に失敗: %w", key, err)
	}

	return nil
}

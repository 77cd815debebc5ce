package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open はSQLiteデータベース接続を開く。
// pathはデータベースファイルのパスを指定する（":memory:"でインメモリDB）。
// クライアントサイドの視聴履歴ストアのため、WALモードとbusy_timeoutを設定する。
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqliteは単一書き込み接続での運用が安全
	db.SetMaxOpenConns(1)

	return db, nil
}

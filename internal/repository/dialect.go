package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect はSQL実装が接続するデータベースの方言。
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// NewSQLStores は指定方言のSQLリポジトリ一式を生成する。
func NewSQLStores(db *sql.DB, d Dialect) *Stores {
	return &Stores{
		Users:           NewSQLUserRepo(db, d),
		Tasks:           NewSQLTaskRepo(db, d),
		Sessions:        NewSQLSessionRepo(db, d),
		Revocations:     NewSQLRevocationRepo(db, d),
		BootstrapTokens: NewSQLBootstrapTokenRepo(db, d),
	}
}

// rebind はクエリ中の ? プレースホルダを方言に合わせて書き換える。
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg は時刻をクエリパラメータに変換する。
// SQLiteではUnixミリ秒のINTEGERとして保存し、比較と並び替えを正しく行えるようにする。
func (d Dialect) timeArg(t time.Time) any {
	if d == DialectSQLite {
		return t.UTC().UnixMilli()
	}
	return t.UTC()
}

// dbTime は方言ごとに異なる時刻カラムの値を読み取る。
type dbTime struct {
	time.Time
}

// Scan はsql.Scannerを実装する。
func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
	case int64:
		t.Time = time.UnixMilli(v).UTC()
	case nil:
		t.Time = time.Time{}
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

package connection

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Dialect は接続先データベースの種別を表す
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectMongoDB  Dialect = "mongodb"
)

// Family はクエリ言語の系統を表す（方言ごとの戦略選択に使用する）
type Family string

const (
	FamilySQL      Family = "sql"
	FamilyDocument Family = "document"
)

// ErrUnknownDialect は未対応のデータベース種別を表す
var ErrUnknownDialect = errors.New("unknown dialect")

// ParseDialect は文字列をDialectに変換する
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectPostgres, DialectMySQL, DialectMongoDB:
		return Dialect(s), nil
	case "mongo":
		return DialectMongoDB, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, s)
	}
}

// Family はこの方言が属するクエリ言語の系統を返す
func (d Dialect) Family() Family {
	if d == DialectMongoDB {
		return FamilyDocument
	}
	return FamilySQL
}

func (d Dialect) String() string {
	return string(d)
}

// Connection は登録済みのターゲットデータベース接続を表す
type Connection struct {
	ID        uuid.UUID
	Name      string  // 一意な接続名
	Dialect   Dialect // データベース種別
	DSN       string  // ドライバ固有の接続文字列（エンジンは解釈しない）
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewConnection は新しい接続を作成する
func NewConnection(name string, dialect Dialect, dsn string) (*Connection, error) {
	c := &Connection{
		ID:        uuid.New(),
		Name:      name,
		Dialect:   dialect,
		DSN:       dsn,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var (
	// user:pass@ 形式のDSN（mysqlの user:pass@tcp(host)/db など）
	dsnUserinfoPattern = regexp.MustCompile(`^([^:@/\s]+):([^@\s]+)@`)

	// key=value 形式のDSN（pgxの password=secret など）
	dsnPasswordKVPattern = regexp.MustCompile(`(password=)(\S+)`)
)

// RedactedDSN はパスワード部を伏せたDSNを返す（表示・ログ出力用）
func (c *Connection) RedactedDSN() string {
	if u, err := url.Parse(c.DSN); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}

	redacted := dsnUserinfoPattern.ReplaceAllString(c.DSN, "${1}:xxxxx@")
	return dsnPasswordKVPattern.ReplaceAllString(redacted, "${1}xxxxx")
}

// Validate は接続の妥当性を検証する
func (c *Connection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("connection name is required")
	}
	if c.DSN == "" {
		return fmt.Errorf("connection DSN is required")
	}
	if _, err := ParseDialect(string(c.Dialect)); err != nil {
		return err
	}
	return nil
}

// SchemaSnapshot はある時点のデータベーススキーマ全体を表す
// インデックス作成時にコネクタが取得し、以降は変更されない
type SchemaSnapshot struct {
	Tables []TableSchema
}

// TableSchema はテーブル（またはコレクション）1つ分のスキーマ情報を表す
type TableSchema struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	SampleRows  []map[string]any // 取得済みサンプル行（最大10行）
	RowCount    int64            // 概算行数（取得できない場合は-1）
}

// Column はテーブルのカラム定義を表す
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// ForeignKey は外部キー関係を表す
type ForeignKey struct {
	Column    string // 参照元カラム
	RefTable  string // 参照先テーブル
	RefColumn string // 参照先カラム
}

// QueryResult はターゲットデータベースでのクエリ実行結果を表す
type QueryResult struct {
	Columns   []string
	Rows      []map[string]any
	RowCount  int           // 返却した行数
	Truncated bool          // 行数上限で打ち切られた場合にtrue
	Elapsed   time.Duration // 実行に要した時間
}

package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLValidator_AllowsReadOnlyStatements(t *testing.T) {
	v := NewSQLValidator(100)

	tests := []struct {
		name      string
		statement string
	}{
		{name: "単純なSELECT", statement: "SELECT id, email FROM users"},
		{name: "小文字のselect", statement: "select * from users"},
		{name: "WITH句", statement: "WITH active AS (SELECT * FROM users WHERE active) SELECT count(*) FROM active"},
		{name: "SHOW", statement: "SHOW TABLES"},
		{name: "DESCRIBE", statement: "DESCRIBE users"},
		{name: "EXPLAIN", statement: "EXPLAIN SELECT * FROM orders"},
		{name: "末尾セミコロン", statement: "SELECT 1;"},
		{name: "解析不能なPostgreSQL構文はキーワード判定に委ねる", statement: "SELECT name FROM users WHERE name ILIKE '%tanaka%'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.statement)
			assert.True(t, verdict.Safe, "reason: %s", verdict.Reason)
			assert.NotEmpty(t, verdict.Statement)
		})
	}
}

func TestSQLValidator_RejectsWriteStatements(t *testing.T) {
	v := NewSQLValidator(100)

	tests := []struct {
		name      string
		statement string
		reason    string
	}{
		{name: "INSERT", statement: "INSERT INTO users (name) VALUES ('x')", reason: "INSERT"},
		{name: "UPDATE", statement: "UPDATE users SET name = 'x'", reason: "UPDATE"},
		{name: "DELETE", statement: "DELETE FROM users", reason: "DELETE"},
		{name: "DROP", statement: "DROP TABLE users", reason: "DROP"},
		{name: "大文字小文字混在", statement: "DrOp TaBlE users", reason: "DROP"},
		{name: "TRUNCATE", statement: "TRUNCATE TABLE logs", reason: "TRUNCATE"},
		{name: "GRANT", statement: "GRANT ALL ON users TO public", reason: "GRANT"},
		{name: "SELECTに埋め込まれたDELETE", statement: "SELECT * FROM users WHERE id IN (DELETE FROM x)", reason: "DELETE"},
		{name: "関数位置のREPLACEも拒否する", statement: "SELECT REPLACE(name, 'a', 'b') FROM users", reason: "REPLACE"},
		{name: "複文の後半に書き込み", statement: "DROP TABLE users; -- cleanup", reason: "DROP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.statement)
			require.False(t, verdict.Safe)
			assert.Contains(t, verdict.Reason, tt.reason)
		})
	}
}

func TestSQLValidator_RejectsDangerousPatterns(t *testing.T) {
	v := NewSQLValidator(100)

	tests := []struct {
		name      string
		statement string
	}{
		{name: "行コメント", statement: "SELECT * FROM users -- all of them"},
		{name: "ブロックコメント", statement: "SELECT /* hidden */ * FROM users"},
		{name: "UNIONインジェクション", statement: "SELECT name FROM users UNION SELECT password FROM admins"},
		{name: "恒真式", statement: "SELECT * FROM users WHERE id = 1 OR 1=1"},
		{name: "文字列の恒真式", statement: "SELECT * FROM users WHERE 'a' = 'a' OR 'x'='x'"},
		{name: "複文", statement: "SELECT 1; SELECT 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.statement)
			assert.False(t, verdict.Safe)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestSQLValidator_RejectsNonSelectParsedStatements(t *testing.T) {
	v := NewSQLValidator(100)

	verdict := v.Validate("USE production")
	require.False(t, verdict.Safe)
	assert.Contains(t, verdict.Reason, "not allowed")
}

func TestSQLValidator_RejectsWithWithoutSelect(t *testing.T) {
	v := NewSQLValidator(100)

	// 解析可能な場合はAST層が、不能な場合はキーワード層が拒否する
	verdict := v.Validate("WITH x AS (TABLE users) TABLE x @@")
	assert.False(t, verdict.Safe)
}

func TestSQLValidator_AppliesRowCap(t *testing.T) {
	v := NewSQLValidator(100)

	t.Run("LIMITなしのSELECTには注入する", func(t *testing.T) {
		verdict := v.Validate("SELECT * FROM users")
		require.True(t, verdict.Safe)
		assert.True(t, verdict.Capped)
		assert.True(t, strings.HasSuffix(verdict.Statement, "LIMIT 100"), "got: %s", verdict.Statement)
	})

	t.Run("上限を超えるLIMITは引き下げる", func(t *testing.T) {
		verdict := v.Validate("SELECT * FROM users LIMIT 5000")
		require.True(t, verdict.Safe)
		assert.True(t, verdict.Capped)
		assert.Contains(t, verdict.Statement, "LIMIT 100")
		assert.NotContains(t, verdict.Statement, "5000")
	})

	t.Run("上限以下のLIMITはそのまま", func(t *testing.T) {
		verdict := v.Validate("SELECT * FROM users LIMIT 10")
		require.True(t, verdict.Safe)
		assert.False(t, verdict.Capped)
		assert.Equal(t, "SELECT * FROM users LIMIT 10", verdict.Statement)
	})

	t.Run("SHOWには注入しない", func(t *testing.T) {
		verdict := v.Validate("SHOW TABLES")
		require.True(t, verdict.Safe)
		assert.False(t, verdict.Capped)
		assert.Equal(t, "SHOW TABLES", verdict.Statement)
	})
}

package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentValidator_AllowsFindAndAggregate(t *testing.T) {
	v := NewDocumentValidator(100)

	t.Run("findクエリ", func(t *testing.T) {
		verdict := v.Validate(`{"collection": "users", "filter": {"active": true}, "limit": 10}`)
		require.True(t, verdict.Safe, "reason: %s", verdict.Reason)
		assert.False(t, verdict.Capped)

		q, err := ParseDocumentQuery(verdict.Statement)
		require.NoError(t, err)
		assert.Equal(t, "users", q.Collection)
		assert.Equal(t, int64(10), q.Limit)
	})

	t.Run("filterなしは空filterに正規化される", func(t *testing.T) {
		verdict := v.Validate(`{"collection": "users"}`)
		require.True(t, verdict.Safe)

		q, err := ParseDocumentQuery(verdict.Statement)
		require.NoError(t, err)
		assert.NotNil(t, q.Filter)
		assert.Empty(t, q.Filter)
	})

	t.Run("aggregateパイプライン", func(t *testing.T) {
		verdict := v.Validate(`{"collection": "orders", "pipeline": [{"$match": {"status": "paid"}}, {"$limit": 20}]}`)
		require.True(t, verdict.Safe, "reason: %s", verdict.Reason)
		assert.False(t, verdict.Capped)
	})
}

func TestDocumentValidator_AppliesRowCap(t *testing.T) {
	v := NewDocumentValidator(100)

	t.Run("limitなしのfindには上限を注入する", func(t *testing.T) {
		verdict := v.Validate(`{"collection": "users", "filter": {}}`)
		require.True(t, verdict.Safe)
		assert.True(t, verdict.Capped)

		q, err := ParseDocumentQuery(verdict.Statement)
		require.NoError(t, err)
		assert.Equal(t, int64(100), q.Limit)
	})

	t.Run("上限を超えるlimitは引き下げる", func(t *testing.T) {
		verdict := v.Validate(`{"collection": "users", "filter": {}, "limit": 100000}`)
		require.True(t, verdict.Safe)
		assert.True(t, verdict.Capped)

		q, err := ParseDocumentQuery(verdict.Statement)
		require.NoError(t, err)
		assert.Equal(t, int64(100), q.Limit)
	})

	t.Run("$limitのないパイプラインにはステージを追加する", func(t *testing.T) {
		verdict := v.Validate(`{"collection": "orders", "pipeline": [{"$match": {}}]}`)
		require.True(t, verdict.Safe)
		assert.True(t, verdict.Capped)
		assert.Contains(t, verdict.Statement, `"$limit":100`)
	})

	t.Run("過大な$limitは引き下げる", func(t *testing.T) {
		verdict := v.Validate(`{"collection": "orders", "pipeline": [{"$limit": 5000}]}`)
		require.True(t, verdict.Safe)
		assert.True(t, verdict.Capped)
		assert.Contains(t, verdict.Statement, `"$limit":100`)
		assert.NotContains(t, verdict.Statement, "5000")
	})
}

func TestDocumentValidator_RejectsWriteIntents(t *testing.T) {
	v := NewDocumentValidator(100)

	tests := []struct {
		name      string
		statement string
	}{
		{name: "insertキー", statement: `{"collection": "users", "insert": [{"name": "x"}]}`},
		{name: "deleteキー", statement: `{"collection": "users", "delete": {"name": "x"}}`},
		{name: "dropキー", statement: `{"collection": "users", "drop": true}`},
		{name: "$out演算子", statement: `{"collection": "orders", "pipeline": [{"$out": "stolen"}]}`},
		{name: "$merge演算子", statement: `{"collection": "orders", "pipeline": [{"$merge": {"into": "x"}}]}`},
		{name: "ネストされた$where", statement: `{"collection": "users", "filter": {"$or": [{"$where": "sleep(1000)"}]}}`},
		{name: "$function演算子", statement: `{"collection": "users", "pipeline": [{"$addFields": {"x": {"$function": {}}}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.statement)
			require.False(t, verdict.Safe)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestDocumentValidator_RejectsMalformedDocuments(t *testing.T) {
	v := NewDocumentValidator(100)

	tests := []struct {
		name      string
		statement string
	}{
		{name: "JSONではない", statement: "SELECT * FROM users"},
		{name: "トップレベルが配列", statement: `[{"collection": "users"}]`},
		{name: "collectionなし", statement: `{"filter": {}}`},
		{name: "collectionが空", statement: `{"collection": "", "filter": {}}`},
		{name: "filterとpipelineの併用", statement: `{"collection": "u", "filter": {}, "pipeline": []}`},
		{name: "filterがオブジェクトでない", statement: `{"collection": "u", "filter": "x = 1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.statement)
			require.False(t, verdict.Safe)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

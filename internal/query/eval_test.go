package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	const doc = `{
		"name": "Ada",
		"age": 36,
		"admin": true,
		"nothing": null,
		"tags": ["a", "b", "c"],
		"matrix": [[1, 2], [3]],
		"profile": {"city": "London", "langs": ["en", "fr"]},
		"items": [{"sku": "x", "qty": 2}, {"sku": "y", "qty": 5}]
	}`

	tests := []struct {
		query string
		want  bool
	}{
		{`{}`, true},
		{`{"name": "Ada"}`, true},
		{`{"name": "Bob"}`, false},
		{`{"age": 36.0}`, true},
		{`{"age": "36"}`, false},
		{`{"tags": "b"}`, true},
		{`{"tags": ["a", "b", "c"]}`, true},
		{`{"tags": ["a", "b"]}`, false},
		{`{"matrix": [3]}`, true},
		{`{"tags.1": "b"}`, true},
		{`{"tags.5": "b"}`, false},
		{`{"profile.city": "London"}`, true},
		{`{"profile": {"city": "London", "langs": ["en", "fr"]}}`, true},
		{`{"profile": {"city": "London"}}`, false},
		{`{"items.sku": "y"}`, true},
		{`{"items.1.qty": 5}`, true},
		{`{"missing": null}`, true},
		{`{"nothing": null}`, true},
		{`{"name": null}`, false},
		{`{"age": {"$gt": 30, "$lt": 40}}`, true},
		{`{"age": {"$gte": 36}}`, true},
		{`{"age": {"$lt": 36}}`, false},
		{`{"name": {"$gt": "A"}}`, true},
		{`{"name": {"$gt": 1}}`, false},
		{`{"items.qty": {"$gt": 4}}`, true},
		{`{"items.qty": {"$gt": 5}}`, false},
		{`{"name": {"$ne": "Bob"}}`, true},
		{`{"missing": {"$ne": 1}}`, true},
		{`{"tags": {"$ne": "a"}}`, false},
		{`{"name": {"$in": ["Ada", "Bob"]}}`, true},
		{`{"tags": {"$in": ["z", "c"]}}`, true},
		{`{"missing": {"$in": [null]}}`, true},
		{`{"name": {"$nin": ["Bob"]}}`, true},
		{`{"tags": {"$nin": ["c"]}}`, false},
		{`{"tags": {"$all": ["c", "a"]}}`, true},
		{`{"tags": {"$all": ["a", "z"]}}`, false},
		{`{"tags": {"$all": []}}`, false},
		{`{"tags": {"$elemMatch": {"$in": ["b"]}}}`, true},
		{`{"tags": {"$elemMatch": {"$gt": "c"}}}`, false},
		{`{"items": {"$elemMatch": {"sku": "x", "qty": 2}}}`, true},
		{`{"items": {"$elemMatch": {"sku": "x", "qty": 5}}}`, false},
		{`{"name": {"$elemMatch": {"$eq": "Ada"}}}`, false},
		{`{"tags": {"$size": 3}}`, true},
		{`{"tags": {"$size": 2}}`, false},
		{`{"name": {"$exists": true}}`, true},
		{`{"nothing": {"$exists": true}}`, true},
		{`{"missing": {"$exists": false}}`, true},
		{`{"name": {"$type": "string"}}`, true},
		{`{"tags": {"$type": "array"}}`, true},
		{`{"tags": {"$type": "string"}}`, true},
		{`{"admin": {"$type": ["number", "bool"]}}`, true},
		{`{"nothing": {"$type": "null"}}`, true},
		{`{"profile": {"$type": "object"}}`, true},
		{`{"age": {"$not": {"$gt": 40}}}`, true},
		{`{"age": {"$not": {"$gt": 30}}}`, false},
		{`{"$and": [{"name": "Ada"}, {"age": 36}]}`, true},
		{`{"$and": [{"name": "Ada"}, {"age": 1}]}`, false},
		{`{"$or": [{"name": "Bob"}, {"age": 36}]}`, true},
		{`{"$or": [{"name": "Bob"}, {"age": 1}]}`, false},
		{`{"$nor": [{"name": "Bob"}, {"age": 1}]}`, true},
		{`{"$nor": [{"name": "Ada"}]}`, false},
		{`{"$not": {"name": "Bob"}}`, true},
		{`{"name": "Ada", "$or": [{"admin": false}, {"tags": "a"}]}`, true},
	}

	obj := mustDecode(t, doc)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			expr, err := Parse(mustDecode(t, tt.query))
			require.NoError(t, err)

			got, err := Eval(expr, obj)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Deterministic(t *testing.T) {
	expr, err := Parse(mustDecode(t, `{"$or": [{"a": 1}, {"b": {"$in": [1, 2]}}]}`))
	require.NoError(t, err)
	obj := mustDecode(t, `{"a": 2, "b": [3, 2]}`)

	for i := 0; i < 20; i++ {
		got, err := Eval(expr, obj)
		require.NoError(t, err)
		assert.True(t, got)
	}
}

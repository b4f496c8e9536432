package filterquery

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person map[string]any

var people = []person{
	{"name": "Moody Hurst", "age": 23, "city": "Idamay"},
	{"name": "Dunn Kline", "age": 41, "city": "Blairstown"},
	{"name": "Holt Petersen", "age": 31, "city": "Cherokee"},
	{"name": "Frank Davis", "age": 29, "city": "Cherokee"},
	{"name": "Lucille Cummings", "age": 18, "city": "Bentonville"},
}

func TestFilter(t *testing.T) {
	tests := []struct {
		src  string
		want []int
	}{
		{"name = 'Moody Hurst'", []int{0}},
		{"age > 30", []int{1, 2}},
		{"city != 'Cherokee'", []int{0, 1, 4}},
		{`city == "Cherokee" && age < 30`, []int{3}},
		{"age < 20 || age > 40", []int{1, 4}},
		{"", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Filter(people, tt.src)
			require.NoError(t, err)
			want := make([]person, 0, len(tt.want))
			for _, i := range tt.want {
				want = append(want, people[i])
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilterPlainMaps(t *testing.T) {
	got, err := Filter([]map[string]any{{"age": 23}, {"age": 41}, {"age": 31}}, "age > 30")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"age": 41}, {"age": 31}}, got)
}

func TestFilterInvalid(t *testing.T) {
	_, err := Filter(people, "age >")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadFilter))
}

func TestFilterPredicate(t *testing.T) {
	pred, err := FilterPredicate(`user.email in ["a@example.com"] && country = "nl"`)
	require.NoError(t, err)
	assert.True(t, pred(Context{"user": map[string]any{"email": "a@example.com"}, "country": "nl"}))
	assert.False(t, pred(Context{"user": map[string]any{"email": "a@example.com"}, "country": "be"}))
	assert.False(t, pred(Context{}))

	empty, err := FilterPredicate("  ")
	require.NoError(t, err)
	assert.False(t, empty(Context{"anything": true}))

	_, err = FilterPredicate("a = 1)")
	assert.EqualError(t, err, "closed parenthesis before open parenthesis")
}

func TestFilterPredicateCoercesToBool(t *testing.T) {
	pred, err := FilterPredicate("beta")
	require.NoError(t, err)
	assert.True(t, pred(Context{"beta": "yes"}))
	assert.False(t, pred(Context{"beta": ""}))
	assert.False(t, pred(Context{}))
}

func TestQuery(t *testing.T) {
	q, err := Compile("plan in ['pro','team'] and seats >= 5")
	require.NoError(t, err)
	assert.Equal(t, `plan in ["pro", "team"] && seats >= 5`, q.String())
	assert.True(t, q.Match(Context{"plan": "pro", "seats": 10}))
	assert.Equal(t, false, q.Eval(Context{"plan": "free", "seats": 10}))

	text, err := q.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "plan in ['pro','team'] and seats >= 5", string(text))

	empty, err := Compile("")
	require.NoError(t, err)
	assert.Equal(t, "", empty.String())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("a = 1"))
	assert.NoError(t, Validate(""))
	assert.EqualError(t, Validate("a = 1 &&"), `error at position 6: no matcher for "&&"`)
}

func TestTraverseOrder(t *testing.T) {
	n := mustParse(t, "a = 1 && (b in [2, 3] || !c)")
	var got []string
	Traverse(n, func(n Node) { got = append(got, n.NodeType()) })
	want := []string{
		"boolean",
		"comparison", "accessor", "value",
		"group", "boolean",
		"comparison", "accessor", "list", "value", "value",
		"not", "accessor",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("traversal order mismatch (-want +got):\n%s", diff)
	}

	Traverse(nil, func(Node) { t.Fatal("visited a nil tree") })
}

func TestAccessors(t *testing.T) {
	n := mustParse(t, "user.id = 1 || (user.id = 2 && !beta)")
	assert.Equal(t, []string{"user.id", "beta"}, Accessors(n))
	assert.Empty(t, Accessors(mustParse(t, "true")))
}

func TestPrintTree(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTree(&buf, mustParse(t, "a = 1 && !(b in ['x'])")))
	want := `boolean &&
  comparison =
    accessor a
    value 1
  not
    group
      comparison in
        accessor b
        list
          value "x"
`
	assert.Equal(t, want, buf.String())
}

func TestPrintMermaid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintMermaid(&buf, mustParse(t, "a > 1 || b"), "a > 1 || b"))
	want := `---
title: a #gt; 1 || b
---
flowchart TD
  start --> 0[boolean or]
  0 --> 1[comparison #gt;]
  1 --> 2[accessor]
  1 --> 3[value]
  0 --> 4[accessor]
`
	assert.Equal(t, want, buf.String())

	buf.Reset()
	require.NoError(t, PrintMermaid(&buf, nil, "ignored"))
	assert.Empty(t, buf.String())
}

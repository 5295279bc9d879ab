package normalize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValueSanitizesPathologicalInputs(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	u, err := url.Parse("https://example.com/page?q=1")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"nan", math.NaN(), nil},
		{"pos_inf", math.Inf(1), nil},
		{"neg_inf", math.Inf(-1), nil},
		{"time", ts, "2024-05-01T12:00:00Z"},
		{"url", u, "https://example.com/page?q=1"},
		{"bytes", []byte("raw"), base64.StdEncoding.EncodeToString([]byte("raw"))},
		{"string", "plain", "plain"},
		{"bool", true, true},
		{"int", 7, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, n.Value(tc.in))
		})
	}
}

func TestValueRecursesIntoContainers(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	in := map[string]any{
		"nested": map[string]any{
			"when":  time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC),
			"bad":   math.NaN(),
			"blob":  []byte{0x01, 0x02},
			"items": []any{1, math.Inf(1), "ok"},
		},
	}
	out := n.Value(in)

	nested, ok := out.(map[string]any)["nested"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "2023-01-02T03:04:05Z", nested["when"])
	require.Nil(t, nested["bad"])
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}), nested["blob"])
	require.Equal(t, []any{1, nil, "ok"}, nested["items"])

	_, err := json.Marshal(out)
	require.NoError(t, err)
}

func TestValueOutputAlwaysEncodable(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	inputs := []any{
		make(chan int),
		func() {},
		complex(1, 2),
		map[string]any{"deep": []any{map[string]any{"ch": make(chan int)}}},
		[]any{math.NaN(), []byte("x"), nil},
	}
	for _, in := range inputs {
		out := n.Value(in)
		_, err := json.Marshal(out)
		require.NoError(t, err, "input %T", in)
	}
}

type dumperResult struct {
	m map[string]any
}

func (d dumperResult) ResultMap() map[string]any { return d.m }

func TestSingleUsesDumpCapability(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	out := n.Single(dumperResult{m: map[string]any{
		"url":     "https://example.com",
		"success": true,
		"body":    []byte("html"),
	}})
	require.Equal(t, "https://example.com", out["url"])
	require.Equal(t, true, out["success"])
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("html")), out["body"])
}

func TestSingleDefaultsSuccessOnMappings(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	out := n.Single(map[string]any{"url": "https://example.com"})
	require.Equal(t, false, out["success"])

	out = n.Single(map[string]any{"url": "https://example.com", "success": true})
	require.Equal(t, true, out["success"])
}

type plainResult struct {
	URL     string
	Success bool
	Error   string
}

func TestSingleSynthesizesFromFields(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	out := n.Single(plainResult{URL: "https://example.com", Success: true, Error: "nope"})
	require.Equal(t, "https://example.com", out["url"])
	require.Equal(t, true, out["success"])
	require.Equal(t, "nope", out["error_message"])

	out = n.Single(42)
	require.Equal(t, "", out["url"])
	require.Equal(t, false, out["success"])
}

func TestSingleIdempotent(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	first := n.Single(map[string]any{
		"url":        "https://example.com",
		"success":    true,
		"body":       []byte("payload"),
		"fetched_at": time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
	})
	second := n.Single(first)
	require.Equal(t, first, second)
}

type listerResult struct {
	items []any
}

func (l listerResult) Results() []any { return l.items }

func TestManyShapes(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())

	require.Empty(t, n.Many(nil))
	require.Empty(t, n.Many([]any{}))

	a := map[string]any{"url": "https://a.example", "success": true}
	b := map[string]any{"url": "https://b.example", "success": false}
	got := n.Many([]any{a, b})
	require.Len(t, got, 2)
	require.Equal(t, n.Single(a), got[0])
	require.Equal(t, n.Single(b), got[1])

	got = n.Many(listerResult{items: []any{a, b}})
	require.Len(t, got, 2)
	require.Equal(t, "https://a.example", got[0]["url"])

	got = n.Many(a)
	require.Len(t, got, 1)
	require.Equal(t, "https://a.example", got[0]["url"])
}

func TestCollectDrainsStream(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	stream := make(chan any, 3)
	stream <- map[string]any{"url": "https://1.example", "success": true}
	stream <- map[string]any{"url": "https://2.example", "success": true}
	close(stream)

	got := n.Collect(context.Background(), stream)
	require.Len(t, got, 2)
	require.Equal(t, "https://1.example", got[0]["url"])
	require.Equal(t, "https://2.example", got[1]["url"])
}

func TestCollectStopsOnCancel(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	stream := make(chan any, 1)
	stream <- map[string]any{"url": "https://1.example", "success": true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []map[string]any, 1)
	go func() {
		done <- n.Collect(ctx, stream)
	}()

	// Let the collector drain the buffered item, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case got := <-done:
		require.Len(t, got, 1)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after cancellation")
	}
}

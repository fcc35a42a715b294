package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/config"
)

func TestParseToolMarker(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		name string
		args string
	}{
		{in: "!#[search(golang generics)]", ok: true, name: "search", args: "golang generics"},
		{in: "  \n!#[read_url(https://x.y/z)] trailing", ok: true, name: "read_url", args: "https://x.y/z"},
		{in: "!#[calc(\n1+1\n)]", ok: true, name: "calc", args: "\n1+1\n"},
		{in: "!#[search x]", ok: true, name: ""},
		{in: "!#[9bad(x)]", ok: true, name: ""},
		{in: "plain answer", ok: false},
		{in: "answer with !#[search(x)] inside", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		inv, ok := ParseToolMarker(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if ok {
			assert.Equal(t, tt.name, inv.Name, tt.in)
			if tt.name != "" {
				assert.Equal(t, tt.args, inv.Args, tt.in)
			}
		}
	}
}

func TestToolRouterFromConfig(t *testing.T) {
	cfg := config.Defaults().AI
	cfg.ToolRoutes = map[string]string{"Summarize": "sumBot01", "search": "otherBot", "blank": " "}
	r := ToolRouterFromConfig(cfg)

	route, ok := r.Lookup("summarize")
	require.True(t, ok)
	assert.Equal(t, ToolRoute{BotUID: "sumBot01", Model: "sumBot01"}, route)

	route, ok = r.Lookup("search")
	require.True(t, ok)
	assert.Equal(t, "otherBot", route.BotUID)

	route, ok = r.Lookup("read_url")
	require.True(t, ok)
	assert.Equal(t, cfg.ReaderBot, route.BotUID)

	_, ok = r.Lookup("blank")
	assert.False(t, ok)
}

func TestToolRouter(t *testing.T) {
	r := DefaultToolRouter("reader", "utility")

	for _, name := range []string{"read_url", "read_file", "read_page"} {
		route, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "reader", route.BotUID)
	}
	for _, name := range []string{"search", "calculate", "weather", "translate", "time", " Search "} {
		route, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "utility", route.BotUID)
	}
	_, ok := r.Lookup("unknown")
	assert.False(t, ok)

	r.Register("summarize", ToolRoute{BotUID: "reader"})
	_, ok = r.Lookup("SUMMARIZE")
	assert.True(t, ok)
}

func TestDispatch_UnknownAndMalformed(t *testing.T) {
	backend := newScriptedBackend(func(req ai.ChatRequest) (string, error) {
		t.Fatalf("backend must not be called")
		return "", nil
	})
	d := NewToolDispatcher(backend, DefaultToolRouter("reader", "utility"))

	for _, in := range []string{"!#[unknown(x)]", "!#[broken"} {
		inv, ok := ParseToolMarker(in)
		require.True(t, ok)
		text, routed, err := d.Dispatch(context.Background(), inv)
		require.NoError(t, err)
		assert.False(t, routed)
		assert.Equal(t, InvalidToolCallText, text)
	}
}

func TestDispatch_StatelessSubBotCall(t *testing.T) {
	backend := newScriptedBackend(func(req ai.ChatRequest) (string, error) {
		return "page text", nil
	})
	d := NewToolDispatcher(backend, DefaultToolRouter("reader", "utility"))

	inv, _ := ParseToolMarker("!#[read_url(https://example.com)]")
	for i := 0; i < 2; i++ {
		text, routed, err := d.Dispatch(context.Background(), inv)
		require.NoError(t, err)
		assert.True(t, routed)
		assert.Equal(t, "page text", text)
	}

	reqs := backend.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "reader", reqs[0].BotUID)
	assert.True(t, reqs[0].Data.IsIncognito)
	assert.Len(t, reqs[0].Data.Items, 2, "always a turn-zero request")
	assert.NotEqual(t, reqs[0].Data.ConversationID, reqs[1].Data.ConversationID)
}

package chat

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/config"
)

const toolMarkerPrefix = "!#["

var toolMarkerRe = regexp.MustCompile(`(?s)^!#\[([A-Za-z_][A-Za-z0-9_]*)\((.*)\)\]`)

// ToolInvocation is a tool request found at the start of a reply.
// Name is empty when the marker is malformed.
type ToolInvocation struct {
	Name string
	Args string
	Raw  string
}

// ParseToolMarker reports whether s starts with a tool marker. Leading
// whitespace is ignored. A reply that opens with the marker prefix but does
// not follow the grammar is still a marker, with an empty Name.
func ParseToolMarker(s string) (ToolInvocation, bool) {
	t := strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(t, toolMarkerPrefix) {
		return ToolInvocation{}, false
	}
	inv := ToolInvocation{Raw: t}
	if m := toolMarkerRe.FindStringSubmatch(t); m != nil {
		inv.Name = m[1]
		inv.Args = m[2]
	}
	return inv, true
}

// ToolRoute is the sub-bot a tool name is delegated to.
type ToolRoute struct {
	BotUID string
	Model  string
}

type ToolRouter struct {
	mu     sync.RWMutex
	routes map[string]ToolRoute
}

func NewToolRouter() *ToolRouter {
	return &ToolRouter{routes: make(map[string]ToolRoute)}
}

// DefaultToolRouter maps the reading tools to readerBot and the lookup tools
// to utilityBot.
func DefaultToolRouter(readerBot, utilityBot string) *ToolRouter {
	r := NewToolRouter()
	for _, name := range []string{"read_url", "read_file", "read_page"} {
		r.Register(name, ToolRoute{BotUID: readerBot, Model: readerBot})
	}
	for _, name := range []string{"search", "calculate", "weather", "translate", "time"} {
		r.Register(name, ToolRoute{BotUID: utilityBot, Model: utilityBot})
	}
	return r
}

// ToolRouterFromConfig is the default routing plus the configured
// tool_routes, which may add tools or move built-in ones to another bot.
func ToolRouterFromConfig(cfg config.AIConfig) *ToolRouter {
	r := DefaultToolRouter(cfg.ReaderBot, cfg.UtilityBot)
	for name, bot := range cfg.ToolRoutes {
		bot = strings.TrimSpace(bot)
		if bot == "" {
			continue
		}
		r.Register(name, ToolRoute{BotUID: bot, Model: bot})
	}
	return r
}

func (r *ToolRouter) Register(name string, route ToolRoute) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[name] = route
}

func (r *ToolRouter) Lookup(name string) (ToolRoute, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	route, ok := r.routes[name]
	r.mu.RUnlock()
	return route, ok
}

// ToolDispatcher runs a tool invocation as a side conversation with a sub-bot.
type ToolDispatcher struct {
	backend  Backend
	router   *ToolRouter
	newToken func() string
}

func NewToolDispatcher(backend Backend, router *ToolRouter) *ToolDispatcher {
	return &ToolDispatcher{backend: backend, router: router, newToken: uuid.NewString}
}

// Dispatch returns the sub-bot reply and true for a routed tool. Unknown or
// malformed markers return InvalidToolCallText and false without calling
// the backend.
//
// The side conversation is stateless: fresh tokens, turn zero, incognito,
// never written to the session store.
func (d *ToolDispatcher) Dispatch(ctx context.Context, inv ToolInvocation) (string, bool, error) {
	if inv.Name == "" {
		return InvalidToolCallText, false, nil
	}
	route, ok := d.router.Lookup(inv.Name)
	if !ok {
		return InvalidToolCallText, false, nil
	}

	req := d.backend.BuildChatRequest(ai.ChatParams{
		ConversationID: d.newToken(),
		PrevItemID:     d.newToken(),
		CurrentItemID:  d.newToken(),
		ReplyID:        d.newToken(),
		BotUID:         route.BotUID,
		Model:          route.Model,
		Question:       inv.Raw,
		Incognito:      true,
	})
	reply, err := d.backend.Chat(ctx, req)
	if err != nil {
		return "", false, err
	}
	return reply, true, nil
}

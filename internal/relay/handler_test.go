package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/logging"
)

type converseCall struct {
	room  uint64
	input string
}

type clearCall struct {
	room     uint64
	variants []string
}

type fakeConversation struct {
	mu       sync.Mutex
	reply    string
	err      error
	caption  string
	engaged  map[uint64]bool
	converse []converseCall
	captions []chat.Image
	clears   []clearCall
	models   map[uint64]string
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{
		reply:   "hi there",
		caption: "a cat",
		engaged: map[uint64]bool{},
		models:  map[uint64]string{},
	}
}

func (f *fakeConversation) Converse(ctx context.Context, room uint64, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.converse = append(f.converse, converseCall{room, input})
	return f.reply, f.err
}

func (f *fakeConversation) Caption(ctx context.Context, img chat.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captions = append(f.captions, img)
	return f.caption, nil
}

func (f *fakeConversation) Clear(ctx context.Context, room uint64, variants ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, clearCall{room, variants})
	return nil
}

func (f *fakeConversation) SetModel(ctx context.Context, room uint64, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[room] = model
	return model, nil
}

func (f *fakeConversation) Engage(ctx context.Context, room uint64, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engaged[room] = true
	return nil
}

func (f *fakeConversation) IsEngaged(ctx context.Context, room uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engaged[room], nil
}

const (
	selfID  = 10001
	ownerID = 42
	groupID = 777
)

func newTestHandler(conv Conversation) *Handler {
	return NewHandler(conv, HandlerConfig{
		Owner:        ownerID,
		EngageTTL:    time.Minute,
		AutoJoin:     true,
		ClearAllBots: []string{"gemini_2_0", "jv6tFQ5q"},
	}, logging.Discard())
}

func groupEvent(from uint64, segs ...Segment) Event {
	return Event{
		PostType:    "message",
		MessageType: "group",
		SelfID:      selfID,
		MessageID:   555,
		UserID:      from,
		GroupID:     groupID,
		Message:     segs,
		Sender:      Sender{UserID: from, Nickname: "alice"},
	}
}

func privateEvent(from uint64, text string) Event {
	return Event{
		PostType:    "message",
		MessageType: "private",
		SelfID:      selfID,
		MessageID:   556,
		UserID:      from,
		Message:     []Segment{TextSegment(text)},
		Sender:      Sender{UserID: from, Nickname: "bob"},
	}
}

func imageSegment(t *testing.T, data map[string]any) Segment {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return Segment{Type: "image", Data: b}
}

func groupParams(t *testing.T, act *Action) GroupMessageParams {
	t.Helper()
	require.NotNil(t, act)
	require.Equal(t, "send_group_msg", act.Action)
	p, ok := act.Params.(GroupMessageParams)
	require.True(t, ok)
	return p
}

func texts(segs []Segment) []string {
	var out []string
	for _, s := range segs {
		if t, ok := s.Text(); ok {
			out = append(out, t)
		}
	}
	return out
}

func TestHandle_MentionRepliesWithQuote(t *testing.T) {
	conv := newFakeConversation()
	h := newTestHandler(conv)

	act := h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment(" hello")))
	p := groupParams(t, act)

	assert.Equal(t, "777", p.GroupID)
	require.Len(t, p.Message, 3)
	at, ok := p.Message[0].At()
	require.True(t, ok)
	assert.Equal(t, "7", at)
	assert.Equal(t, "reply", p.Message[1].Type)
	assert.Equal(t, []string{"hi there"}, texts(p.Message))

	require.Len(t, conv.converse, 1)
	assert.Equal(t, uint64(groupID), conv.converse[0].room)
	assert.Equal(t, "alice发送了以下内容：\n文字： hello\n", conv.converse[0].input)
	assert.True(t, conv.engaged[groupID])
}

func TestHandle_EngagedGroupWithoutMention(t *testing.T) {
	conv := newFakeConversation()
	h := newTestHandler(conv)

	assert.Nil(t, h.Handle(context.Background(), groupEvent(7, TextSegment("anyone?"))))
	assert.Empty(t, conv.converse)

	conv.engaged[groupID] = true
	p := groupParams(t, h.Handle(context.Background(), groupEvent(7, TextSegment("anyone?"))))
	require.Len(t, p.Message, 1)
	assert.Equal(t, []string{"hi there"}, texts(p.Message))
}

func TestHandle_MentionWithoutAutoJoin(t *testing.T) {
	conv := newFakeConversation()
	h := NewHandler(conv, HandlerConfig{EngageTTL: time.Minute}, logging.Discard())

	act := h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment("hey")))
	require.NotNil(t, act)
	assert.False(t, conv.engaged[groupID])
}

func TestHandle_ImagesAreCaptioned(t *testing.T) {
	conv := newFakeConversation()
	h := newTestHandler(conv)

	ev := groupEvent(7,
		AtSegment(selfID),
		TextSegment("look"),
		imageSegment(t, map[string]any{"file": "big.png", "url": "https://img/big.png", "file_size": "20480", "summary": "[图片]"}),
		imageSegment(t, map[string]any{"file": "tiny.png", "url": "https://img/tiny.png", "file_size": 512}),
		imageSegment(t, map[string]any{"summary": "[动画表情]"}),
	)
	h.Handle(context.Background(), ev)

	require.Len(t, conv.captions, 1)
	assert.Equal(t, chat.Image{URL: "https://img/big.png", Filename: "big.png", Size: 20480}, conv.captions[0])
	require.Len(t, conv.converse, 1)
	assert.Equal(t, "alice发送了以下内容：\n文字：look\n图片：[图片] a cat\n图片：[动画表情] \n", conv.converse[0].input)
}

func TestHandle_GroupCommands(t *testing.T) {
	conv := newFakeConversation()
	h := newTestHandler(conv)

	p := groupParams(t, h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment(" ~echo a  b"))))
	assert.Equal(t, []string{"a b"}, texts(p.Message))

	p = groupParams(t, h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment("~ping"))))
	assert.Equal(t, []string{"pong to alice"}, texts(p.Message))

	p = groupParams(t, h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment("~ai what is up"))))
	assert.Equal(t, []string{"hi there"}, texts(p.Message))
	require.Len(t, conv.converse, 1)
	assert.Equal(t, "what is up", conv.converse[0].input)

	p = groupParams(t, h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment("~sh ls"))))
	assert.Equal(t, []string{"Unknown command"}, texts(p.Message))
}

func TestHandle_OwnerOnlyCommands(t *testing.T) {
	conv := newFakeConversation()
	h := newTestHandler(conv)

	p := groupParams(t, h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment("~ai !clear"))))
	assert.Equal(t, []string{"Permission denied: Owner required"}, texts(p.Message))
	assert.Empty(t, conv.clears)

	p = groupParams(t, h.Handle(context.Background(), groupEvent(ownerID, AtSegment(selfID), TextSegment("~ai !clear all"))))
	assert.Equal(t, []string{"Record cleared"}, texts(p.Message))
	require.Len(t, conv.clears, 2)
	assert.Equal(t, clearCall{room: groupID}, conv.clears[0])
	assert.Equal(t, clearCall{room: chat.GlobalRoom, variants: []string{"gemini_2_0", "jv6tFQ5q"}}, conv.clears[1])

	p = groupParams(t, h.Handle(context.Background(), groupEvent(ownerID, AtSegment(selfID), TextSegment("~ai !model gpt-4o"))))
	assert.Equal(t, []string{"Model set"}, texts(p.Message))
	assert.Equal(t, "gpt-4o", conv.models[groupID])
}

func TestHandle_Private(t *testing.T) {
	conv := newFakeConversation()
	h := newTestHandler(conv)

	assert.Nil(t, h.Handle(context.Background(), privateEvent(9, "hello")))

	act := h.Handle(context.Background(), privateEvent(9, "~ping"))
	require.NotNil(t, act)
	assert.Equal(t, "send_private_msg", act.Action)
	p := act.Params.(PrivateMessageParams)
	assert.Equal(t, "9", p.UserID)
	assert.Equal(t, []string{"pong to bob"}, texts(p.Message))

	h.Handle(context.Background(), privateEvent(9, "~ai hi"))
	require.Len(t, conv.converse, 1)
	assert.Equal(t, chat.GlobalRoom, conv.converse[0].room)
}

func TestHandle_ErrorsAreRendered(t *testing.T) {
	conv := newFakeConversation()
	conv.err = errors.New("backend down")
	h := newTestHandler(conv)

	p := groupParams(t, h.Handle(context.Background(), groupEvent(7, AtSegment(selfID), TextSegment("hi"))))
	assert.Equal(t, []string{"Error: backend down"}, texts(p.Message))

	act := h.Handle(context.Background(), privateEvent(9, "~ai hi"))
	assert.Equal(t, []string{"Error: backend down"}, texts(act.Params.(PrivateMessageParams).Message))
}

func TestHandle_IgnoresNonMessages(t *testing.T) {
	h := newTestHandler(newFakeConversation())
	assert.Nil(t, h.Handle(context.Background(), Event{PostType: "meta_event"}))
	assert.Nil(t, h.Handle(context.Background(), Event{PostType: "message", MessageType: "guild"}))
}

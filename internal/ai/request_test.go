package ai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChatRequest_FirstTurn(t *testing.T) {
	c := NewClient("https://backend/api/custom_bot/chat", "https://backend", "tok")
	req := c.BuildChatRequest(ChatParams{
		ConversationID: "c1",
		PrevItemID:     "p1",
		CurrentItemID:  "n1",
		TurnCount:      0,
		ReplyID:        "r1",
		BotUID:         "openai_o_3_mini",
		Model:          "openai-o-3-mini",
		Question:       "hello",
		InitPrompt:     "INIT:",
	})

	require.Len(t, req.Data.Items, 2)
	welcome := req.Data.Items[0]
	assert.Equal(t, ItemReply, welcome.ItemType)
	assert.Equal(t, "msg:p1", welcome.ItemID)
	assert.Equal(t, WelcomePlaceholder, welcome.Data.Content)

	q := req.Data.Items[1]
	assert.Equal(t, ItemQuestion, q.ItemType)
	assert.Equal(t, "msg:n1", q.ItemID)
	assert.Equal(t, "msg:p1", q.ParentItemID)
	assert.Equal(t, "INIT:hello", q.Data.Content)
	assert.Equal(t, "conv:c1", q.ConversationID)

	assert.Equal(t, "conv:c1", req.Data.ConversationID)
	assert.Equal(t, "msg:r1", req.Data.PreGeneratedReplyID)
	assert.Equal(t, "msg:n1", req.Data.PreParentItemID)
	assert.Equal(t, "openai-o-3-mini", req.Data.UseModel)
	assert.Equal(t, "openai_o_3_mini", req.BotUID)
	assert.True(t, strings.HasPrefix(req.TaskUID, "task:"))
}

func TestBuildChatRequest_LaterTurnSkipsInitPrompt(t *testing.T) {
	c := NewClient("https://backend/chat", "https://backend", "tok")
	req := c.BuildChatRequest(ChatParams{
		ConversationID: "c1",
		PrevItemID:     "p2",
		CurrentItemID:  "n2",
		TurnCount:      3,
		ReplyID:        "r2",
		Question:       "again",
		InitPrompt:     "INIT:",
	})

	require.Len(t, req.Data.Items, 1)
	assert.Equal(t, "again", req.Data.Items[0].Data.Content)
	assert.Equal(t, "msg:p2", req.Data.Items[0].ParentItemID)
}

func TestBuildChatRequest_WireShape(t *testing.T) {
	c := NewClient("https://backend/chat", "https://backend", "tok")
	req := c.BuildChatRequest(ChatParams{
		ConversationID: "c", PrevItemID: "p", CurrentItemID: "n", ReplyID: "r",
		Question: "describe", Incognito: true,
		Files: []FileInfo{{FileName: "a.png", FileUID: "f1"}},
	})

	b, err := json.Marshal(req)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	tool := raw["tool_data"].(map[string]any)
	assert.Equal(t, []any{}, tool["sys_skill_list"])

	data := raw["data"].(map[string]any)
	assert.Equal(t, true, data["is_incognito"])
	items := data["items"].([]any)
	welcome := items[0].(map[string]any)
	_, hasParent := welcome["parent_item_id"]
	assert.False(t, hasParent, "welcome item has no parent")

	q := items[1].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "file_with_text", q["type"])
	assert.Len(t, q["file_infos"], 1)
	_, hasQuote := q["quote_content"]
	assert.False(t, hasQuote)
}

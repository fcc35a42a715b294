package ai

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// WelcomePlaceholder is the synthetic bot reply that opens a fresh conversation.
const WelcomePlaceholder = "__RENDER_BOT_WELCOME_MSG__"

// ChatParams carries everything needed to build one round-trip request.
type ChatParams struct {
	ConversationID string
	PrevItemID     string
	CurrentItemID  string
	TurnCount      int64
	// ReplyID is the pre-generated id the backend assigns to its reply.
	ReplyID string

	BotUID string
	Model  string

	Question   string
	InitPrompt string
	Incognito  bool
	Files      []FileInfo
}

func msgID(tok string) string  { return "msg:" + tok }
func convID(tok string) string { return "conv:" + tok }

// BuildChatRequest assembles the request body. A turn-zero session gets the
// welcome reply item and the init prompt in front of the question.
func (c *Client) BuildChatRequest(p ChatParams) ChatRequest {
	conv := convID(p.ConversationID)
	question := p.Question

	items := make([]ConversationItem, 0, 2)
	if p.TurnCount == 0 {
		items = append(items, ConversationItem{
			ItemID:         msgID(p.PrevItemID),
			ConversationID: conv,
			ItemType:       ItemReply,
			Summary:        WelcomePlaceholder,
			Data: ItemData{
				Type:    "text",
				Content: WelcomePlaceholder,
			},
		})
		question = p.InitPrompt + question
	}

	data := ItemData{
		Type:        "text",
		Content:     question,
		MaxToken:    ptr(0),
		IsIncognito: ptr(p.Incognito),
	}
	if len(p.Files) > 0 {
		data.Type = "file_with_text"
		data.FileInfos = p.Files
	} else {
		data.QuoteContent = ptr("")
	}

	items = append(items, ConversationItem{
		ItemID:         msgID(p.CurrentItemID),
		ConversationID: conv,
		ItemType:       ItemQuestion,
		Summary:        question,
		ParentItemID:   msgID(p.PrevItemID),
		Data:           data,
	})

	return ChatRequest{
		TaskUID: "task:" + uuid.NewString(),
		BotUID:  p.BotUID,
		Data: ConversationData{
			ConversationID:      conv,
			Items:               items,
			PreGeneratedReplyID: msgID(p.ReplyID),
			PreParentItemID:     msgID(p.CurrentItemID),
			Origin:              c.origin(p.Model, p.BotUID),
			OriginPageTitle:     p.Model + " - Bots",
			TriggerBy:           "auto",
			UseModel:            p.Model,
			IsIncognito:         p.Incognito,
			UseNewMemory:        true,
		},
		Language:       "auto",
		Locale:         c.Locale,
		TaskType:       "chat",
		ToolData:       ToolData{SysSkillList: []string{}},
		AIRespLanguage: c.RespLanguage,
	}
}

func (c *Client) origin(model, bot string) string {
	return strings.TrimRight(c.APIBase, "/") + "/home/chat/" + url.PathEscape(model) + "/" + url.PathEscape(bot)
}

func ptr[T any](v T) *T { return &v }

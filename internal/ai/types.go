package ai

// ChatRequest is the body posted to the custom bot chat endpoint.
type ChatRequest struct {
	TaskUID        string           `json:"task_uid"`
	BotUID         string           `json:"bot_uid"`
	Data           ConversationData `json:"data"`
	Language       string           `json:"language"`
	Locale         string           `json:"locale"`
	TaskType       string           `json:"task_type"`
	ToolData       ToolData         `json:"tool_data"`
	AIRespLanguage string           `json:"ai_resp_language"`
}

type ConversationData struct {
	ConversationID      string             `json:"conversation_id"`
	Items               []ConversationItem `json:"items"`
	PreGeneratedReplyID string             `json:"pre_generated_reply_id"`
	PreParentItemID     string             `json:"pre_parent_item_id"`
	Origin              string             `json:"origin"`
	OriginPageTitle     string             `json:"origin_page_title"`
	TriggerBy           string             `json:"trigger_by"`
	UseModel            string             `json:"use_model"`
	IsIncognito         bool               `json:"is_incognito"`
	UseNewMemory        bool               `json:"use_new_memory"`
}

type ItemType string

const (
	ItemReply    ItemType = "reply"
	ItemQuestion ItemType = "question"
)

type ConversationItem struct {
	ItemID         string   `json:"item_id"`
	ConversationID string   `json:"conversation_id"`
	ItemType       ItemType `json:"item_type"`
	Summary        string   `json:"summary"`
	ParentItemID   string   `json:"parent_item_id,omitempty"`
	Data           ItemData `json:"data"`
}

type ItemData struct {
	Type         string     `json:"type"`
	Content      string     `json:"content"`
	QuoteContent *string    `json:"quote_content,omitempty"`
	MaxToken     *int       `json:"max_token,omitempty"`
	IsIncognito  *bool      `json:"is_incognito,omitempty"`
	FileInfos    []FileInfo `json:"file_infos,omitempty"`
}

// FileInfo references an uploaded, indexed backend file.
type FileInfo struct {
	UseFullText bool   `json:"use_full_text"`
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	FileExt     string `json:"file_ext"`
	FileSize    uint64 `json:"file_size"`
	FileURL     string `json:"file_url"`
	FileUID     string `json:"file_uid"`
	FileChunks  uint64 `json:"file_chunks"`
	FileTokens  uint64 `json:"file_tokens"`
}

type ToolData struct {
	SysSkillList []string `json:"sys_skill_list"`
}

// streamPayload is one server-sent event body.
type streamPayload struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

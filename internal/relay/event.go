package relay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Frame is any inbound websocket frame. Status is set on action responses,
// PostType on events.
type Frame struct {
	Status  string          `json:"status,omitempty"`
	RetCode int             `json:"retcode,omitempty"`
	Wording string          `json:"wording,omitempty"`
	Echo    json.RawMessage `json:"echo,omitempty"`

	Event
}

// Event is a OneBot v11 message event.
type Event struct {
	PostType    string    `json:"post_type"`
	MessageType string    `json:"message_type"`
	SubType     string    `json:"sub_type"`
	Time        int64     `json:"time"`
	SelfID      uint64    `json:"self_id"`
	MessageID   int64     `json:"message_id"`
	UserID      uint64    `json:"user_id"`
	GroupID     uint64    `json:"group_id"`
	TargetID    uint64    `json:"target_id"`
	RawMessage  string    `json:"raw_message"`
	Message     []Segment `json:"message"`
	Sender      Sender    `json:"sender"`
}

type Sender struct {
	UserID   uint64 `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// Name is the group card when set, otherwise the nickname.
func (s Sender) Name() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// Segment is one piece of a message array.
type Segment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type TextData struct {
	Text string `json:"text"`
}

type AtData struct {
	QQ flexString `json:"qq"`
}

type ReplyData struct {
	ID flexString `json:"id"`
}

// ImageData is the payload of an image segment. Implementations send
// file_size as either a string or a number.
type ImageData struct {
	File     string   `json:"file"`
	URL      string   `json:"url"`
	FileSize flexUint `json:"file_size"`
	Summary  string   `json:"summary"`
}

func (s Segment) Text() (string, bool) {
	if s.Type != "text" {
		return "", false
	}
	var d TextData
	if err := json.Unmarshal(s.Data, &d); err != nil {
		return "", false
	}
	return d.Text, true
}

// At returns the mentioned id ("all" for everyone).
func (s Segment) At() (string, bool) {
	if s.Type != "at" {
		return "", false
	}
	var d AtData
	if err := json.Unmarshal(s.Data, &d); err != nil {
		return "", false
	}
	return string(d.QQ), true
}

func (s Segment) Image() (ImageData, bool) {
	if s.Type != "image" {
		return ImageData{}, false
	}
	var d ImageData
	if err := json.Unmarshal(s.Data, &d); err != nil {
		return ImageData{}, false
	}
	return d, true
}

func mustSegment(typ string, data any) Segment {
	b, _ := json.Marshal(data)
	return Segment{Type: typ, Data: b}
}

func TextSegment(text string) Segment { return mustSegment("text", TextData{Text: text}) }

func AtSegment(qq uint64) Segment {
	return mustSegment("at", AtData{QQ: flexString(strconv.FormatUint(qq, 10))})
}

func ReplySegment(messageID int64) Segment {
	return mustSegment("reply", ReplyData{ID: flexString(strconv.FormatInt(messageID, 10))})
}

// Action is an outbound API call.
type Action struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo,omitempty"`
}

type GroupMessageParams struct {
	GroupID string    `json:"group_id"`
	Message []Segment `json:"message"`
}

type PrivateMessageParams struct {
	UserID  string    `json:"user_id"`
	Message []Segment `json:"message"`
}

func SendGroupMsg(groupID uint64, msg []Segment) *Action {
	return &Action{
		Action: "send_group_msg",
		Params: GroupMessageParams{GroupID: strconv.FormatUint(groupID, 10), Message: msg},
	}
}

func SendPrivateMsg(userID uint64, msg []Segment) *Action {
	return &Action{
		Action: "send_private_msg",
		Params: PrivateMessageParams{UserID: strconv.FormatUint(userID, 10), Message: msg},
	}
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.Trim(string(b), " "))
	return nil
}

// flexUint accepts a JSON number or a numeric string; anything else is 0.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexUint(n)
	return nil
}

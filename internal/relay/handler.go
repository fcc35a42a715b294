package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/chat"
)

// minCaptionSize skips stickers and thumbnails.
const minCaptionSize = 1024

// Conversation is the orchestration surface the relay drives.
type Conversation interface {
	Converse(ctx context.Context, room uint64, input string) (string, error)
	Caption(ctx context.Context, img chat.Image) (string, error)
	Clear(ctx context.Context, room uint64, variants ...string) error
	SetModel(ctx context.Context, room uint64, model string) (string, error)
	Engage(ctx context.Context, room uint64, ttl time.Duration) error
	IsEngaged(ctx context.Context, room uint64) (bool, error)
}

type HandlerConfig struct {
	Owner     uint64
	EngageTTL time.Duration
	AutoJoin  bool
	// ClearAllBots are reset in the global room by "~ai !clear all".
	ClearAllBots []string
}

// Handler turns message events into reply actions.
type Handler struct {
	conv Conversation
	cfg  HandlerConfig
	log  *slog.Logger
}

func NewHandler(conv Conversation, cfg HandlerConfig, log *slog.Logger) *Handler {
	return &Handler{conv: conv, cfg: cfg, log: log}
}

// Handle returns the action to send for ev, or nil when the event needs no reply.
func (h *Handler) Handle(ctx context.Context, ev Event) *Action {
	if ev.PostType != "message" {
		return nil
	}
	switch ev.MessageType {
	case "group":
		return h.handleGroup(ctx, ev)
	case "private":
		return h.handlePrivate(ctx, ev)
	}
	return nil
}

type inbound struct {
	mentioned bool
	text      string
	images    []ImageData
}

func (h *Handler) parse(ev Event) inbound {
	var in inbound
	var b strings.Builder
	self := strconv.FormatUint(ev.SelfID, 10)
	for _, seg := range ev.Message {
		if qq, ok := seg.At(); ok && qq == self {
			in.mentioned = true
		}
		if t, ok := seg.Text(); ok {
			b.WriteString(t)
		}
		if img, ok := seg.Image(); ok {
			// summary-only images are kept; downloadable ones must be large enough
			if img.URL == "" || uint64(img.FileSize) > minCaptionSize {
				in.images = append(in.images, img)
			}
		}
	}
	in.text = b.String()
	return in
}

func (h *Handler) handleGroup(ctx context.Context, ev Event) *Action {
	in := h.parse(ev)
	room := ev.GroupID
	text := strings.TrimSpace(in.text)

	if in.mentioned {
		if strings.HasPrefix(text, "~") {
			return SendGroupMsg(room, h.command(ctx, ev, room, text))
		}
		if h.cfg.AutoJoin {
			if err := h.conv.Engage(ctx, room, h.cfg.EngageTTL); err != nil {
				h.log.Warn("engage failed", "group", room, "err", err)
			}
		}
		reply := h.converse(ctx, ev, room, in)
		out := append([]Segment{AtSegment(senderID(ev)), ReplySegment(ev.MessageID)}, reply...)
		return SendGroupMsg(room, out)
	}

	engaged, err := h.conv.IsEngaged(ctx, room)
	if err != nil {
		h.log.Warn("engagement check failed", "group", room, "err", err)
		return nil
	}
	if !engaged {
		return nil
	}
	return SendGroupMsg(room, h.converse(ctx, ev, room, in))
}

func (h *Handler) handlePrivate(ctx context.Context, ev Event) *Action {
	in := h.parse(ev)
	text := strings.TrimSpace(in.text)
	if !strings.HasPrefix(text, "~") {
		return nil
	}
	to := ev.UserID
	if to == 0 {
		to = ev.TargetID
	}
	return SendPrivateMsg(to, h.command(ctx, ev, chat.GlobalRoom, text))
}

// converse builds the prompt for a free-form message and returns the reply segments.
func (h *Handler) converse(ctx context.Context, ev Event, room uint64, in inbound) []Segment {
	prompt, err := h.buildPrompt(ctx, ev.Sender.Name(), in)
	if err != nil {
		return errorReply(err)
	}
	reply, err := h.conv.Converse(ctx, room, prompt)
	if err != nil {
		h.log.Error("converse failed", "room", room, "err", err)
		return errorReply(err)
	}
	return []Segment{TextSegment(reply)}
}

func (h *Handler) buildPrompt(ctx context.Context, name string, in inbound) (string, error) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("发送了以下内容：\n")
	if in.text != "" {
		b.WriteString("文字：")
		b.WriteString(in.text)
		b.WriteString("\n")
	}
	for _, img := range in.images {
		caption := ""
		if img.URL != "" {
			c, err := h.conv.Caption(ctx, chat.Image{URL: img.URL, Filename: img.File, Size: uint64(img.FileSize)})
			if err != nil {
				return "", err
			}
			caption = c
		}
		fmt.Fprintf(&b, "图片：%s %s\n", img.Summary, caption)
	}
	return b.String(), nil
}

// command runs a "~" command. room is the group, or the global room for private chats.
func (h *Handler) command(ctx context.Context, ev Event, room uint64, text string) []Segment {
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "~")
	args := fields[1:]

	switch cmd {
	case "echo":
		return []Segment{TextSegment(strings.Join(args, " "))}
	case "ping":
		return []Segment{TextSegment("pong to " + ev.Sender.Nickname)}
	case "ai":
		return h.aiCommand(ctx, ev, room, args)
	default:
		return []Segment{TextSegment("Unknown command")}
	}
}

func (h *Handler) aiCommand(ctx context.Context, ev Event, room uint64, args []string) []Segment {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "!clear":
		if !h.isOwner(ev) {
			return permissionDenied()
		}
		if err := h.conv.Clear(ctx, room); err != nil {
			return errorReply(err)
		}
		if len(args) > 1 && args[1] == "all" {
			if err := h.conv.Clear(ctx, chat.GlobalRoom, h.cfg.ClearAllBots...); err != nil {
				return errorReply(err)
			}
		}
		return []Segment{TextSegment("Record cleared")}
	case "!model":
		if !h.isOwner(ev) {
			return permissionDenied()
		}
		model := ""
		if len(args) > 1 {
			model = args[1]
		}
		if _, err := h.conv.SetModel(ctx, room, model); err != nil {
			return errorReply(err)
		}
		return []Segment{TextSegment("Model set")}
	}

	reply, err := h.conv.Converse(ctx, room, strings.Join(args, " "))
	if err != nil {
		h.log.Error("converse failed", "room", room, "err", err)
		return errorReply(err)
	}
	return []Segment{TextSegment(reply)}
}

func senderID(ev Event) uint64 {
	if ev.Sender.UserID != 0 {
		return ev.Sender.UserID
	}
	return ev.UserID
}

func (h *Handler) isOwner(ev Event) bool {
	return h.cfg.Owner != 0 && senderID(ev) == h.cfg.Owner
}

func permissionDenied() []Segment {
	return []Segment{TextSegment("Permission denied: Owner required")}
}

func errorReply(err error) []Segment {
	return []Segment{TextSegment("Error: " + err.Error())}
}

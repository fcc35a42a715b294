package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/chat-relay/internal/ai"
)

const (
	DefaultCaptionQuestion = "解释这张图片 "
	DefaultPollAttempts    = 5
	DefaultPollInterval    = time.Second
)

// FileBackend is the upload side of the AI backend.
type FileBackend interface {
	Download(ctx context.Context, url string) ([]byte, error)
	PresignUpload(ctx context.Context, filename string) (ai.UploadTarget, error)
	PutObject(ctx context.Context, uploadURL string, data []byte) error
	RegisterFile(ctx context.Context, filename string, size uint64, objectURL string) (string, error)
	FileStatus(ctx context.Context, fileUID string) (ai.FileStatus, error)
}

// Image is an inbound picture to describe.
type Image struct {
	URL      string
	Filename string
	// Size is the size announced by the transport; 0 means use the downloaded length.
	Size uint64
}

// Captioner uploads an image to the backend and asks a vision bot to describe it.
type Captioner struct {
	files   FileBackend
	backend Backend

	BotUID   string
	Model    string
	Question string

	PollAttempts int
	PollInterval time.Duration

	newToken func() string
}

func NewCaptioner(files FileBackend, backend Backend, botUID, model string) *Captioner {
	return &Captioner{
		files:        files,
		backend:      backend,
		BotUID:       botUID,
		Model:        model,
		Question:     DefaultCaptionQuestion,
		PollAttempts: DefaultPollAttempts,
		PollInterval: DefaultPollInterval,
		newToken:     uuid.NewString,
	}
}

// Caption runs download, presign, put, register, poll and one captioning
// round trip. It does not take the conversation lock; Service.Caption does.
func (c *Captioner) Caption(ctx context.Context, img Image) (string, error) {
	name := img.Filename
	if name == "" {
		name = "image.png"
	}

	data, err := c.files.Download(ctx, img.URL)
	if err != nil {
		return "", err
	}
	size := img.Size
	if size == 0 {
		size = uint64(len(data))
	}

	target, err := c.files.PresignUpload(ctx, name)
	if err != nil {
		return "", err
	}
	if err := c.files.PutObject(ctx, target.UploadURL, data); err != nil {
		return "", err
	}
	fileUID, err := c.files.RegisterFile(ctx, name, size, target.ObjectURL)
	if err != nil {
		return "", err
	}

	st, err := c.waitIndexed(ctx, fileUID)
	if err != nil {
		return "", err
	}

	ext := ai.FileExt(name)
	req := c.backend.BuildChatRequest(ai.ChatParams{
		ConversationID: c.newToken(),
		PrevItemID:     c.newToken(),
		CurrentItemID:  c.newToken(),
		ReplyID:        c.newToken(),
		BotUID:         c.BotUID,
		Model:          c.Model,
		Question:       c.Question,
		Incognito:      true,
		Files: []ai.FileInfo{{
			UseFullText: true,
			FileName:    name,
			FileType:    ext,
			FileExt:     ext,
			FileSize:    size,
			FileURL:     target.ObjectURL,
			FileUID:     fileUID,
			FileChunks:  st.FileChunks,
			FileTokens:  st.FileTokens,
		}},
	})
	return c.backend.Chat(ctx, req)
}

// waitIndexed polls the indexing state at most PollAttempts times,
// PollInterval apart.
func (c *Captioner) waitIndexed(ctx context.Context, fileUID string) (ai.FileStatus, error) {
	attempts := c.PollAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for i := 1; i <= attempts; i++ {
		st, err := c.files.FileStatus(ctx, fileUID)
		if err != nil {
			return ai.FileStatus{}, err
		}
		switch st.IndexState {
		case ai.IndexReady:
			return st, nil
		case ai.IndexError:
			return ai.FileStatus{}, &ai.UploadError{
				Kind:    ai.UploadRemote,
				Message: fmt.Sprintf("upload processing error: %s", st.ErrorMessage),
			}
		}
		if i == attempts {
			break
		}

		if timer == nil {
			timer = time.NewTimer(c.PollInterval)
		} else {
			timer.Reset(c.PollInterval)
		}
		select {
		case <-ctx.Done():
			return ai.FileStatus{}, ctx.Err()
		case <-timer.C:
		}
	}
	return ai.FileStatus{}, &ai.UploadError{Kind: ai.UploadTimeout, Err: ai.ErrUploadTimeout}
}

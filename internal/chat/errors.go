package chat

import "errors"

var (
	// ErrLockTimeout is returned when the conversation lock could not be
	// acquired within the lock timeout. Nothing was sent to the backend.
	ErrLockTimeout = errors.New("timed out waiting for the conversation lock")
	// ErrToolLoopExceeded is returned when replies keep asking for tools past
	// the configured number of rounds.
	ErrToolLoopExceeded = errors.New("tool call loop exceeded")
	ErrNoCaptioner      = errors.New("image captioning is not configured")
	ErrJobNotQueued     = errors.New("job is not queued")
	ErrEmptyModel       = errors.New("model name is empty")
)

// InvalidToolCallText is the final answer for an unknown or malformed tool marker.
const InvalidToolCallText = "无效的工具调用，请检查工具名称和参数。"

package push

import "errors"

// 定义公共错误变量
var (
	ErrEmptyChannelName   = errors.New("channel name is empty")
	ErrInvalidChannelName = errors.New("channel name contains invalid characters")
	ErrDuplicateChannel   = errors.New("channel already registered")
)

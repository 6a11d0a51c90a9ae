package syncengine

import "errors"

var (
	// ErrActionBlocked 本地用户已被导师禁用
	ErrActionBlocked = errors.New("syncengine: local user is blocked")
	// ErrNotOwner 学生试图修改别人的对象
	ErrNotOwner = errors.New("syncengine: object belongs to another user")
	// ErrUnknownObject 本地没有该对象
	ErrUnknownObject = errors.New("syncengine: unknown object")
	// ErrUnknownTool 未注册的工具
	ErrUnknownTool = errors.New("syncengine: unknown tool")
)

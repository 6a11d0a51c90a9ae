package domain

import "errors"

// 对象模型与编解码错误
var (
	// ErrInvalidObject 负载缺少 id / ownerId 等必需字段
	ErrInvalidObject = errors.New("domain: invalid object payload")
	// ErrUnsupportedType 未知的对象类型
	ErrUnsupportedType = errors.New("domain: unsupported object type")
	// ErrDecodeFailed 像素数据加载失败，对象不应显示
	ErrDecodeFailed = errors.New("domain: object decode failed")
	// ErrInvalidOperation 操作结构不完整 (缺少 objectId / json 等)
	ErrInvalidOperation = errors.New("domain: invalid operation")
)

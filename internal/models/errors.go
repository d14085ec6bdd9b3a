package models

import "errors"

var (
	// ErrAuthRequired 服务器返回 401
	ErrAuthRequired = errors.New("需要登录")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
)

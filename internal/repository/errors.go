package repository

import "errors"

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一键冲突（推文已存在或已有草稿）
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleStatus 条件更新未命中：状态已被其他写者改变
	ErrStaleStatus = errors.New("draft status changed concurrently")
)

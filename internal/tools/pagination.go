package tools

import (
	"encoding/base64"
	"strconv"
	"strings"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

const cursorPrefix = "o:"

// EncodeCursor 将偏移量编码为不透明游标。
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor 解析游标，空游标表示第一页。
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || !strings.HasPrefix(string(raw), cursorPrefix) {
		return 0, xerrors.New(action.CodeValidationFailure, "cursor is not valid")
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(string(raw), cursorPrefix))
	if err != nil || offset < 0 {
		return 0, xerrors.New(action.CodeValidationFailure, "cursor is not valid")
	}
	return offset, nil
}

// Paginate 从有序列表中截取一页。
func Paginate[T any](items []T, cursor string, size int) (page []T, next string, hasMore bool, err error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", false, err
	}
	if size <= 0 {
		size = action.DefaultPageSize
	}
	if offset >= len(items) {
		return []T{}, "", false, nil
	}
	end := min(offset+size, len(items))
	page = append([]T(nil), items[offset:end]...)
	if end < len(items) {
		return page, EncodeCursor(end), true, nil
	}
	return page, "", false, nil
}

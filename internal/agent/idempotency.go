package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
)

// replayRecord 是幂等缓存中保存的内容。待处理状态不缓存，重放时从存储读取。
type replayRecord struct {
	TurnID string         `json:"turn_id"`
	Reply  string         `json:"reply"`
	Status Status         `json:"status"`
	Error  *ResponseError `json:"error,omitempty"`
}

func replayKey(entry, userID, idemKey string) string {
	idemKey = strings.TrimSpace(idemKey)
	if idemKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(entry + "\x00" + userID + "\x00" + idemKey))
	return "turn:" + hex.EncodeToString(sum[:])
}

// replay 命中缓存时返回之前的回复与当前的待处理状态。缓存不可用时视为未命中。
func (s *Service) replay(ctx context.Context, userID, key string) (*Response, bool) {
	if key == "" || s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logFrom(ctx).Warn("idempotency cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var rec replayRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		logFrom(ctx).Warn("idempotency record is corrupt", slog.String("error", err.Error()))
		return nil, false
	}
	resp, err := s.responder.Render(ctx, userID, turnResult{turnID: rec.TurnID, status: rec.Status, reply: rec.Reply})
	if err != nil {
		return nil, false
	}
	resp.Error = rec.Error
	return resp, true
}

func (s *Service) remember(ctx context.Context, key string, resp *Response) {
	if key == "" || s.cache == nil || resp == nil {
		return
	}
	raw, err := json.Marshal(replayRecord{TurnID: resp.TurnID, Reply: resp.Reply, Status: resp.Status, Error: resp.Error})
	if err != nil {
		return
	}
	if err := s.cache.Put(context.WithoutCancel(ctx), key, raw); err != nil {
		logFrom(ctx).Warn("idempotency cache write failed", slog.String("error", err.Error()))
	}
}

// Package redis stores approval requests as JSON documents with sorted-set
// indexes. Updates are optimistic: WATCH on the document key plus a version
// check inside MULTI/EXEC.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bizportal/internal/approval/models"
	"bizportal/pkg/platform/sentinel"
)

const (
	keyPrefix   = "approval:req:"
	indexAll    = "approval:index:all"
	indexStatus = "approval:index:status:"
)

type Store struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func docKey(approvalID string) string {
	return keyPrefix + approvalID
}

func statusKey(status models.Status) string {
	return indexStatus + string(status)
}

func (s *Store) Create(ctx context.Context, req *models.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode approval request: %w", err)
	}
	key := docKey(req.ApprovalID)
	score := float64(req.CreatedAt.UnixMilli())

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return sentinel.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			pipe.ZAdd(ctx, indexAll, redis.Z{Score: score, Member: req.ApprovalID})
			pipe.ZAdd(ctx, statusKey(req.Status), redis.Z{Score: score, Member: req.ApprovalID})
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return sentinel.ErrConflict
	}
	return fmt.Errorf("create approval request: %w", err)
}

func (s *Store) FindByApprovalID(ctx context.Context, approvalID string) (*models.Request, error) {
	body, err := s.client.Get(ctx, docKey(approvalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load approval request: %w", err)
	}
	return decode(body)
}

func (s *Store) Update(ctx context.Context, req *models.Request) error {
	key := docKey(req.ApprovalID)
	next := *req
	next.Version = req.Version + 1
	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode approval request: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		if current.Version != req.Version {
			return sentinel.ErrConflict
		}
		score := float64(current.CreatedAt.UnixMilli())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			if current.Status != next.Status {
				pipe.ZRem(ctx, statusKey(current.Status), req.ApprovalID)
				pipe.ZAdd(ctx, statusKey(next.Status), redis.Z{Score: score, Member: req.ApprovalID})
			}
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		req.Version = next.Version
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return sentinel.ErrNotFound
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return sentinel.ErrConflict
	}
	return fmt.Errorf("update approval request: %w", err)
}

// List walks the status index when a status filter is set, otherwise the
// global index, newest first, and applies the remaining filters in process.
func (s *Store) List(ctx context.Context, filter models.Filter) ([]*models.Request, int, error) {
	index := indexAll
	if filter.Status != "" {
		index = statusKey(filter.Status)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("read approval index: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Request{}, 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load approval requests: %w", err)
	}

	var matched []*models.Request
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		req, err := decode([]byte(raw))
		if err != nil {
			return nil, 0, err
		}
		if filter.Matches(req) {
			matched = append(matched, req)
		}
	}

	total := len(matched)
	start := min(filter.Offset(), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

func decode(body []byte) (*models.Request, error) {
	var req models.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode approval request: %w", err)
	}
	return &req, nil
}

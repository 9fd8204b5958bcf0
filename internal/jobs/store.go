package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"

	// 楽観ロックの再試行上限。超過は更新競合の異常として扱います。
	maxUpdateRetries = 16
)

// Store はジョブ状態を Redis に保存します。
// レコードを書き換えるのはこの型だけで、状態遷移の検証もここで行います。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はジョブ情報を取得します。存在しない場合は (nil, nil) を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Create は新規ジョブレコードを保存します。
func (s *Store) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if s.ttl > 0 {
		record.ExpiresAt = now.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// Delete はジョブレコードを削除します。キュー投入に失敗した際の巻き戻しに使います。
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	return s.rdb.Del(ctx, jobKey(jobID)).Err()
}

// MarkRunning はジョブを実行中に遷移させ、開始時刻を記録します。
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(record *Record) error {
		if err := transition(record, StatusRunning); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.StartedAt = &now
		record.Progress = ProgressInfo{Percent: 0, Stage: "start"}
		return nil
	})
}

// MarkCompleted はジョブ完了時の情報を保存します。
func (s *Store) MarkCompleted(ctx context.Context, jobID string, resultPath string, meta any) error {
	return s.update(ctx, jobID, func(record *Record) error {
		if err := transition(record, StatusCompleted); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.CompletedAt = &now
		record.Progress.Percent = 100
		record.Progress.Stage = "completed"
		record.Progress.Message = ""
		record.ResultPath = resultPath
		record.Meta = meta
		record.Error = nil
		return nil
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(ctx, jobID, func(record *Record) error {
		if err := transition(record, StatusFailed); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.CompletedAt = &now
		if errInfo != nil {
			record.Error = errInfo
		} else {
			record.Error = &ErrorInfo{Code: "INTERNAL_ERROR", Message: "unknown error"}
		}
		return nil
	})
}

// MarkCancelled は待機中のジョブを取り消し状態に遷移させます。
func (s *Store) MarkCancelled(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(record *Record) error {
		if err := transition(record, StatusCancelled); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.CompletedAt = &now
		record.Progress.Stage = "cancelled"
		return nil
	})
}

// UpdateProgress は実行中ジョブの進捗を更新します。
// 実行中以外の状態では何もしません（終端状態の表示を壊さないため）。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.update(ctx, jobID, func(record *Record) error {
		if record.Status != StatusRunning {
			return nil
		}
		record.Progress = progress
		return nil
	})
}

// ErrJobMissing は更新対象のレコードが存在しないことを表します。
var ErrJobMissing = errors.New("job record not found")

// update は Watch による楽観ロックでレコードを部分更新します。
// mutate がエラーを返した場合は書き込みせずそのまま返します。
func (s *Store) update(ctx context.Context, jobID string, mutate func(*Record) error) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	key := jobKey(jobID)

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return fmt.Errorf("%w: %s", ErrJobMissing, jobID)
				}
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			if err := mutate(&record); err != nil {
				return err
			}
			record.UpdatedAt = time.Now().UTC()
			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("job update contention: %s", jobID)
}

// transition は状態遷移を検証してから適用します。
func transition(record *Record, next Status) error {
	if !validTransition(record.Status, next) {
		return fmt.Errorf("illegal status transition %s -> %s (job=%s)", record.Status, next, record.JobID)
	}
	record.Status = next
	return nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

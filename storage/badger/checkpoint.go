// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/storage"
)

var _ storage.CheckpointStore = (*Store)(nil)

// SaveCheckpoint persists a checkpoint under its name.
func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint *storage.Checkpoint) error {
	if s.backend.IsClosed() {
		return core.NewStorageFailure("save checkpoint", storage.ErrStorageClosed)
	}
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		checkpoint.UpdatedAt = s.now().UTC()
		key := makeCheckpointKey(checkpoint.Name)
		value := storage.MarshalCheckpoint(checkpoint)
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return core.NewStorageFailure("save checkpoint", err)
}

// LoadCheckpoint retrieves the checkpoint stored under name.
// Returns nil, nil if no checkpoint exists.
func (s *Store) LoadCheckpoint(ctx context.Context, name string) (*storage.Checkpoint, error) {
	if s.backend.IsClosed() {
		return nil, core.NewStorageFailure("load checkpoint", storage.ErrStorageClosed)
	}
	var checkpoint *storage.Checkpoint
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCheckpointKey(name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		return item.Value(func(val []byte) error {
			var unmarshalErr error
			checkpoint, unmarshalErr = storage.UnmarshalCheckpoint(val)
			return unmarshalErr
		})
	}, false)
	if err != nil {
		return nil, core.NewStorageFailure("load checkpoint", err)
	}
	return checkpoint, nil
}

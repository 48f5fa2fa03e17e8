// Copyright 2023 UMH Systems GmbH
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

package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

// Store keeps jobs by id. Implementations must make Update atomic per id.
type Store interface {
	// Create adds a new job and fails with ErrDuplicateJob if the id is taken.
	Create(job Job) error
	Get(id string) (Job, error)
	// Update replaces the job with the result of fn. If fn fails nothing is written.
	Update(id string, fn func(Job) (Job, error)) (Job, error)
	Delete(id string) error
	Count() int
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	// guards read-modify-write in Update
	mu    sync.Mutex
	items *cache.Cache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store whose jobs expire after ttl. ttl <= 0 keeps jobs until evicted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
		if cleanup < time.Second {
			cleanup = time.Second
		}
	}
	return &MemoryStore{items: cache.New(expiration, cleanup)}
}

func (s *MemoryStore) Create(job Job) error {
	if err := s.items.Add(job.ID, job, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("%w: %s", standarderrors.ErrDuplicateJob, job.ID)
	}
	return nil
}

func (s *MemoryStore) Get(id string) (Job, error) {
	v, ok := s.items.Get(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", standarderrors.ErrJobNotFound, id)
	}
	return v.(Job), nil
}

func (s *MemoryStore) Update(id string, fn func(Job) (Job, error)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, expires, ok := s.items.GetWithExpiration(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", standarderrors.ErrJobNotFound, id)
	}
	job, err := fn(v.(Job))
	if err != nil {
		return Job{}, err
	}

	ttl := cache.NoExpiration
	if !expires.IsZero() {
		ttl = time.Until(expires)
		if ttl <= 0 {
			return Job{}, fmt.Errorf("%w: %s", standarderrors.ErrJobNotFound, id)
		}
	}
	s.items.Set(id, job, ttl)
	return job, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items.Get(id); !ok {
		return fmt.Errorf("%w: %s", standarderrors.ErrJobNotFound, id)
	}
	s.items.Delete(id)
	return nil
}

func (s *MemoryStore) Count() int {
	return s.items.ItemCount()
}

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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestJobLifecycleDone(t *testing.T) {
	start := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(NewMemoryStore(0), WithClock(fixedClock(start)))

	job, err := tracker.CreateJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, start.Add(time.Second), job.CreatedAt)

	got, err := tracker.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Nil(t, got.Result)

	result := datamodel.QueryResult{Columns: []string{"n"}, Rows: []datamodel.Row{{"n": datamodel.Int(1)}}, Count: 1}
	job, err = tracker.SetResult("job-1", result)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
	require.NotNil(t, job.FinishedAt)
	assert.Equal(t, start.Add(2*time.Second), *job.FinishedAt)

	got, err = tracker.GetJob("job-1")
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, got.Result.Count)
}

func TestJobLifecycleError(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(0))

	_, err := tracker.CreateJob("job-2")
	require.NoError(t, err)

	job, err := tracker.SetError("job-2", "statement timeout")
	require.NoError(t, err)
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, "statement timeout", job.Error)
	assert.Nil(t, job.Result)
}

func TestJobFinalizedOnce(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(0))

	_, err := tracker.CreateJob("job-3")
	require.NoError(t, err)
	_, err = tracker.SetError("job-3", "boom")
	require.NoError(t, err)

	_, err = tracker.SetResult("job-3", datamodel.QueryResult{})
	assert.ErrorIs(t, err, standarderrors.ErrJobFinalized)

	got, err := tracker.GetJob("job-3")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
}

func TestDuplicateJobRejected(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(0))

	_, err := tracker.CreateJob("job-4")
	require.NoError(t, err)
	_, err = tracker.SetResult("job-4", datamodel.QueryResult{})
	require.NoError(t, err)

	_, err = tracker.CreateJob("job-4")
	assert.ErrorIs(t, err, standarderrors.ErrDuplicateJob)

	got, err := tracker.GetJob("job-4")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
}

func TestUnknownJob(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(0))

	_, err := tracker.GetJob("missing")
	assert.ErrorIs(t, err, standarderrors.ErrJobNotFound)
	_, err = tracker.SetResult("missing", datamodel.QueryResult{})
	assert.ErrorIs(t, err, standarderrors.ErrJobNotFound)
	assert.ErrorIs(t, tracker.Evict("missing"), standarderrors.ErrJobNotFound)

	_, err = tracker.CreateJob("  ")
	assert.ErrorIs(t, err, standarderrors.ErrInvalidArgument)
}

func TestEvict(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(0))

	_, err := tracker.CreateJob("job-5")
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.Count())

	require.NoError(t, tracker.Evict("job-5"))
	assert.Equal(t, 0, tracker.Count())
	_, err = tracker.GetJob("job-5")
	assert.ErrorIs(t, err, standarderrors.ErrJobNotFound)
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(30 * time.Millisecond)
	require.NoError(t, store.Create(Job{ID: "short", Status: StatusProcessing}))

	_, err := store.Get("short")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = store.Get("short")
	assert.ErrorIs(t, err, standarderrors.ErrJobNotFound)
}

func TestConcurrentFinishOnlyOneWins(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(0))
	_, err := tracker.CreateJob("race")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = tracker.SetResult("race", datamodel.QueryResult{})
			} else {
				_, err = tracker.SetError("race", "failed")
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

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

// Package jobs tracks asynchronously executed queries.
// A job is created in processing state and moves exactly once to done or error.
package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/sqlgateway/pkg/datamodel"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/metrics"
	"github.com/united-manufacturing-hub/sqlgateway/pkg/standarderrors"
	"go.uber.org/zap"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

type Job struct {
	ID         string                 `json:"jobId"`
	Status     Status                 `json:"status"`
	Result     *datamodel.QueryResult `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	FinishedAt *time.Time             `json:"finishedAt,omitempty"`
}

// Terminal reports whether the job reached done or error.
func (j Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusError
}

type Tracker struct {
	store Store
	now   func() time.Time
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateJob registers id in processing state. A taken id fails with ErrDuplicateJob.
func (t *Tracker) CreateJob(id string) (Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Job{}, standarderrors.InvalidArgument("empty job id")
	}
	job := Job{ID: id, Status: StatusProcessing, CreatedAt: t.now()}
	if err := t.store.Create(job); err != nil {
		return Job{}, err
	}
	metrics.JobStarted()
	return job, nil
}

func (t *Tracker) SetResult(id string, result datamodel.QueryResult) (Job, error) {
	return t.finish(id, func(j *Job) {
		j.Status = StatusDone
		j.Result = &result
	})
}

func (t *Tracker) SetError(id string, message string) (Job, error) {
	return t.finish(id, func(j *Job) {
		j.Status = StatusError
		j.Error = message
	})
}

func (t *Tracker) finish(id string, set func(*Job)) (Job, error) {
	job, err := t.store.Update(id, func(j Job) (Job, error) {
		if j.Terminal() {
			return Job{}, fmt.Errorf("%w: %s is %s", standarderrors.ErrJobFinalized, id, j.Status)
		}
		finished := t.now()
		j.FinishedAt = &finished
		set(&j)
		return j, nil
	})
	if err != nil {
		return Job{}, err
	}
	metrics.JobFinished(string(job.Status))
	zap.S().Debugf("Job %s finished with status %s", id, job.Status)
	return job, nil
}

func (t *Tracker) GetJob(id string) (Job, error) {
	return t.store.Get(id)
}

// Evict removes a job. Evicting a processing job does not stop its query.
func (t *Tracker) Evict(id string) error {
	job, err := t.store.Get(id)
	if err != nil {
		return err
	}
	if err := t.store.Delete(id); err != nil {
		return err
	}
	if !job.Terminal() {
		metrics.JobFinished("evicted")
	}
	return nil
}

func (t *Tracker) Count() int {
	return t.store.Count()
}

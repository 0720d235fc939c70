package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	apperrors "captionflow/pkg/errors"
)

type AdmissionPolicy string

const (
	// AdmissionWait queues a run until a slot frees up or its context ends.
	AdmissionWait AdmissionPolicy = "wait"
	// AdmissionReject fails a run immediately when every slot is taken.
	AdmissionReject AdmissionPolicy = "reject"
)

func ParseAdmissionPolicy(s string) (AdmissionPolicy, error) {
	switch AdmissionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AdmissionWait:
		return AdmissionWait, nil
	case AdmissionReject:
		return AdmissionReject, nil
	}
	return "", fmt.Errorf("unknown admission policy %q", s)
}

// Admission bounds the number of pipelines running at once.
type Admission struct {
	sem      *semaphore.Weighted
	policy   AdmissionPolicy
	limit    int64
	inFlight atomic.Int64
}

func NewAdmission(limit int, policy AdmissionPolicy) *Admission {
	if limit <= 0 {
		limit = 1
	}
	if policy == "" {
		policy = AdmissionWait
	}
	return &Admission{
		sem:    semaphore.NewWeighted(int64(limit)),
		policy: policy,
		limit:  int64(limit),
	}
}

// Acquire takes a slot. The returned release func must be called exactly
// once; calling it again is a no-op.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	if a == nil {
		return func() {}, nil
	}

	switch a.policy {
	case AdmissionReject:
		if !a.sem.TryAcquire(1) {
			return nil, apperrors.WrapWithDetail(apperrors.CodeBusy, apperrors.ErrBusy.Message,
				fmt.Sprintf("%d pipelines already running", a.limit), nil).WithStage(apperrors.StageAdmission)
		}
	default:
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	a.inFlight.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			a.inFlight.Add(-1)
			a.sem.Release(1)
		}
	}, nil
}

func (a *Admission) InFlight() int64 {
	if a == nil {
		return 0
	}
	return a.inFlight.Load()
}

func (a *Admission) Limit() int64 {
	if a == nil {
		return 0
	}
	return a.limit
}

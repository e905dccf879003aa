package health

import (
	"context"
	"time"

	corehealth "3tcapital/ms_emision_electronica/internal/core/health"

	"github.com/sourcegraph/conc/iter"
)

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Service exposes health-check use cases to adapters.
type Service struct {
	meta         Metadata
	startedAt    time.Time
	checkers     []corehealth.Checker
	checkTimeout time.Duration
}

func NewService(meta Metadata, checkers ...corehealth.Checker) *Service {
	return &Service{
		meta:         meta,
		startedAt:    time.Now().UTC(),
		checkers:     checkers,
		checkTimeout: 2 * time.Second,
	}
}

// Status returns the current availability snapshot. The service reports DEGRADED when any
// dependency probe fails.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	uptime := time.Since(s.startedAt)
	status := corehealth.Status{
		Service:     s.meta.Service,
		Version:     s.meta.Version,
		Environment: s.meta.Environment,
		Status:      "UP",
		StartedAt:   s.startedAt,
		Uptime:      uptime.String(),
		UptimeSecs:  int64(uptime.Seconds()),
	}
	if len(s.checkers) == 0 {
		return status
	}

	status.Dependencies = iter.Map(s.checkers, func(c *corehealth.Checker) corehealth.DependencyStatus {
		checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		defer cancel()

		dep := corehealth.DependencyStatus{Name: (*c).Name(), Status: "UP"}
		if err := (*c).Check(checkCtx); err != nil {
			dep.Status = "DOWN"
			dep.Error = err.Error()
		}
		return dep
	})
	for _, dep := range status.Dependencies {
		if dep.Status != "UP" {
			status.Status = "DEGRADED"
			break
		}
	}
	return status
}

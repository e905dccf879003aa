package health

import (
	"context"
	"time"
)

// Status captures the state of the service at a moment in time.
type Status struct {
	Service      string             `json:"service"`
	Version      string             `json:"version"`
	Environment  string             `json:"environment"`
	Status       string             `json:"status"`
	StartedAt    time.Time          `json:"startedAt"`
	Uptime       string             `json:"uptime"`
	UptimeSecs   int64              `json:"uptimeSeconds"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of probing one backing service.
type DependencyStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Checker probes a backing service (database, cache, blob store).
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc struct {
	DependencyName string
	Fn             func(ctx context.Context) error
}

func (c CheckFunc) Name() string { return c.DependencyName }

func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

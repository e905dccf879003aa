package tenant

import "context"

// Tenant is one company served by the service.
type Tenant struct {
	ID     string
	Name   string
	Active bool
}

// Registry lists the tenants the batch scheduler iterates.
type Registry interface {
	ListActive(ctx context.Context) ([]Tenant, error)
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/infrastructure/database"

	"github.com/jackc/pgx/v5"
)

// ErrCompanyNotFound is returned when a tenant has no company profile.
var ErrCompanyNotFound = errors.New("company profile not found")

// CompanyRepository implements document.CompanyRepository using PostgreSQL.
type CompanyRepository struct {
	db database.DBTX
}

func NewCompanyRepository(db database.DBTX) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// GetCompany loads the issuing company of a tenant.
func (r *CompanyRepository) GetCompany(ctx context.Context, tenantID string) (*document.Company, error) {
	var (
		c           document.Company
		environment int
	)
	err := r.db.QueryRow(ctx, `
		SELECT tenant_id, tax_id, legal_name, trade_name, main_address, establishment_address,
		       establishment_code, issuing_point_code, special_taxpayer, obligated_accounting,
		       retention_agent, environment, emission_type, tax_rate_percent, plan_quota,
		       email, phone, certificate_key, certificate_passphrase
		FROM companies
		WHERE tenant_id = $1`, tenantID,
	).Scan(
		&c.TenantID, &c.TaxID, &c.LegalName, &c.TradeName, &c.MainAddress, &c.EstablishmentAddress,
		&c.EstablishmentCode, &c.IssuingPointCode, &c.SpecialTaxpayer, &c.ObligatedAccounting,
		&c.RetentionAgent, &environment, &c.EmissionType, &c.TaxRatePercent, &c.PlanQuota,
		&c.Email, &c.Phone, &c.CertificateKey, &c.CertificatePassphrase,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	c.Environment = document.Environment(environment)
	return &c, nil
}

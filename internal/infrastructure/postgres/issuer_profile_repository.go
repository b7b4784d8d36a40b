package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

var _ repository.IssuerProfileRepository = (*IssuerProfileRepo)(nil)

// IssuerProfileRepo implementación de IssuerProfileRepository.
type IssuerProfileRepo struct {
	q Querier
}

// NewIssuerProfileRepository construye el adaptador. Pasar pool o tx (Querier).
func NewIssuerProfileRepository(q Querier) *IssuerProfileRepo {
	return &IssuerProfileRepo{q: q}
}

// GetByCompanyID devuelve el perfil del emisor; (nil, nil) si la empresa no lo configuró.
func (r *IssuerProfileRepo) GetByCompanyID(ctx context.Context, companyID string) (*entity.IssuerProfile, error) {
	const query = `
		SELECT company_id, cnpj, party, default_series, environment, created_at, updated_at
		FROM nfe_issuer_profiles WHERE company_id = $1`
	var p entity.IssuerProfile
	var cnpj, env string
	var party []byte
	err := r.q.QueryRow(ctx, query, companyID).Scan(
		&p.CompanyID, &cnpj, &party, &p.DefaultSeries, &env, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get issuer profile: %w", err)
	}
	var d dto.PartyDTO
	if err := json.Unmarshal(party, &d); err != nil {
		return nil, fmt.Errorf("decode issuer party: %w", err)
	}
	p.Party = d.ToEntity()
	p.Party.CNPJ = cnpj
	p.Environment = nfe.Environment(env)
	return &p, nil
}

// Save crea o reemplaza el perfil de la empresa.
func (r *IssuerProfileRepo) Save(ctx context.Context, profile *entity.IssuerProfile) error {
	now := time.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	party, err := json.Marshal(dto.PartyDTO{
		Name: profile.Party.Name, TradeName: profile.Party.TradeName,
		StateRegistration: profile.Party.StateRegistration, CRT: int(profile.Party.CRT),
		Email: profile.Party.Email, Address: dto.AddressDTO(profile.Party.Address),
	})
	if err != nil {
		return fmt.Errorf("marshal issuer party: %w", err)
	}
	query := `
		INSERT INTO nfe_issuer_profiles (company_id, cnpj, party, default_series, environment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id) DO UPDATE
		SET cnpj           = EXCLUDED.cnpj,
		    party          = EXCLUDED.party,
		    default_series = EXCLUDED.default_series,
		    environment    = EXCLUDED.environment,
		    updated_at     = EXCLUDED.updated_at`
	_, err = r.q.Exec(ctx, query,
		profile.CompanyID, profile.Party.CNPJ, party, profile.DefaultSeries,
		string(profile.Environment), profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save issuer profile: %w", err)
	}
	return nil
}

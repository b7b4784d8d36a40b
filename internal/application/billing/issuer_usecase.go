package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// IssuerUseCase administra el perfil del emisor y arma la sesión de cada operación.
type IssuerUseCase struct {
	profileRepo repository.IssuerProfileRepository
	defaultEnv  nfe.Environment
	defaultUF   string
}

// NewIssuerUseCase construye el caso de uso. defaultEnv y defaultUF salen de la
// configuración y aplican cuando el perfil no los define.
func NewIssuerUseCase(profileRepo repository.IssuerProfileRepository, defaultEnv nfe.Environment, defaultUF string) *IssuerUseCase {
	return &IssuerUseCase{profileRepo: profileRepo, defaultEnv: defaultEnv, defaultUF: defaultUF}
}

// Session arma el contexto explícito de la operación. Una empresa sin perfil recibe una
// sesión sin emisor: puede leer e importar, pero no crear ni emitir.
func (uc *IssuerUseCase) Session(ctx context.Context, companyID, userID string) (entity.Session, error) {
	if companyID == "" {
		return entity.Session{}, domain.ErrUnauthorized
	}
	s := entity.Session{CompanyID: companyID, UserID: userID, Environment: uc.defaultEnv, UF: uc.defaultUF}
	profile, err := uc.profileRepo.GetByCompanyID(ctx, companyID)
	if err != nil {
		return entity.Session{}, fmt.Errorf("obtener perfil del emisor: %w", err)
	}
	if profile == nil {
		return s, nil
	}
	s.Issuer = *profile
	if profile.Environment != "" {
		s.Environment = profile.Environment
	}
	if profile.Party.Address.UF != "" {
		s.UF = profile.Party.Address.UF
	}
	return s, nil
}

// GetProfile devuelve el perfil o ErrNotFound.
func (uc *IssuerUseCase) GetProfile(ctx context.Context, companyID string) (*entity.IssuerProfile, error) {
	p, err := uc.profileRepo.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("obtener perfil del emisor: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// SaveProfile valida y guarda el perfil del emisor de la empresa.
func (uc *IssuerUseCase) SaveProfile(ctx context.Context, companyID string, in dto.IssuerProfileDTO) (*entity.IssuerProfile, error) {
	party := in.Party.ToEntity()
	party.CNPJ = nfe.OnlyDigits(party.CNPJ)
	party.Address.UF = strings.ToUpper(party.Address.UF)
	party.IEIndicator = ""

	var errs []error
	if err := nfe.ValidateCNPJ(party.CNPJ); err != nil {
		errs = append(errs, domain.NewValidationError("party.cnpj", err.Error()))
	}
	if strings.TrimSpace(party.Name) == "" {
		errs = append(errs, domain.NewValidationError("party.name", "razón social obligatoria"))
	}
	if !party.CRT.Valid() {
		errs = append(errs, domain.NewValidationError("party.crt", fmt.Sprintf("CRT desconocido: %d", party.CRT)))
	}
	if nfe.UFCode(party.Address.UF) == "" {
		errs = append(errs, domain.NewValidationError("party.address.uf", "UF desconocida"))
	}
	env, ok := nfe.ParseEnvironment(in.Environment)
	if !ok {
		errs = append(errs, domain.NewValidationError("environment", "ambiente desconocido"))
	}
	series := in.DefaultSeries
	if series == 0 {
		series = 1
	}
	if series < 0 || series > 999 {
		errs = append(errs, domain.NewValidationError("default_series", "serie fuera de rango"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	profile := &entity.IssuerProfile{CompanyID: companyID, Party: party, DefaultSeries: series, Environment: env}
	if existing, err := uc.profileRepo.GetByCompanyID(ctx, companyID); err == nil && existing != nil {
		profile.CreatedAt = existing.CreatedAt
	}
	if err := uc.profileRepo.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("guardar perfil del emisor: %w", err)
	}
	return profile, nil
}

package repository

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// IssuerProfileRepository define el puerto de persistencia del perfil del emisor (DIP).
// La implementación vive en infrastructure.
type IssuerProfileRepository interface {
	GetByCompanyID(ctx context.Context, companyID string) (*entity.IssuerProfile, error)
	Save(ctx context.Context, profile *entity.IssuerProfile) error
}

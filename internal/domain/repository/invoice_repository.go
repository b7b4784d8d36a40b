package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// InvoiceFilter criterios de listado de notas de una empresa.
type InvoiceFilter struct {
	Status entity.Status // vacío = todos
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// InvoiceRepository define el puerto de persistencia de la NF-e.
// GetByID y GetByAccessKey devuelven (nil, nil) cuando no existe.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	Update(ctx context.Context, invoice *entity.Invoice) error
	// UpsertByAccessKey inserta o actualiza por chave de acesso; si ya existía,
	// conserva el ID almacenado y lo copia a invoice.ID. created indica inserción.
	UpsertByAccessKey(ctx context.Context, invoice *entity.Invoice) (created bool, err error)
	GetByID(ctx context.Context, companyID, id string) (*entity.Invoice, error)
	GetByAccessKey(ctx context.Context, companyID, accessKey string) (*entity.Invoice, error)
	List(ctx context.Context, companyID string, filter InvoiceFilter) ([]*entity.Invoice, error)
	Delete(ctx context.Context, companyID, id string) error
	// NextNumber reserva el próximo número de la serie para la empresa.
	NextNumber(ctx context.Context, companyID string, series int) (int, error)
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx). El agregado
// completo va en payload (JSONB); las columnas sueltas sirven para filtrar y ordenar.
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

// Create persiste una nota nueva.
func (r *InvoiceRepo) Create(ctx context.Context, invoice *entity.Invoice) error {
	if invoice.ID == "" {
		invoice.ID = uuid.New().String()
	}
	now := time.Now()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	if invoice.UpdatedAt.IsZero() {
		invoice.UpdatedAt = now
	}
	payload, err := json.Marshal(dto.ToInvoiceDTO(invoice))
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	query := `
		INSERT INTO nfe_invoices (id, company_id, number, series, issue_date, status, access_key,
		                          recipient_name, grand_total, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = r.q.Exec(ctx, query,
		invoice.ID, invoice.CompanyID, invoice.Number, invoice.Series, invoice.IssueDate,
		string(invoice.Status), nullIfEmpty(invoice.AccessKey), invoice.Recipient.Name,
		invoice.Totals.GrandTotal, payload, invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice number or access key already exists: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Update reemplaza el agregado completo.
func (r *InvoiceRepo) Update(ctx context.Context, invoice *entity.Invoice) error {
	payload, err := json.Marshal(dto.ToInvoiceDTO(invoice))
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	query := `
		UPDATE nfe_invoices
		SET number         = $3,
		    series         = $4,
		    issue_date     = $5,
		    status         = $6,
		    access_key     = $7,
		    recipient_name = $8,
		    grand_total    = $9,
		    payload        = $10,
		    updated_at     = $11
		WHERE id = $1 AND company_id = $2`
	tag, err := r.q.Exec(ctx, query,
		invoice.ID, invoice.CompanyID, invoice.Number, invoice.Series, invoice.IssueDate,
		string(invoice.Status), nullIfEmpty(invoice.AccessKey), invoice.Recipient.Name,
		invoice.Totals.GrandTotal, payload, invoice.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("access key already exists: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertByAccessKey inserta o actualiza por (company_id, access_key). En conflicto el
// payload entrante reemplaza al almacenado pero conserva id y created_at de la fila.
func (r *InvoiceRepo) UpsertByAccessKey(ctx context.Context, invoice *entity.Invoice) (bool, error) {
	if invoice.AccessKey == "" {
		return false, fmt.Errorf("upsert invoice: %w", domain.ErrInvalidInput)
	}
	if invoice.ID == "" {
		invoice.ID = uuid.New().String()
	}
	now := time.Now()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now
	payload, err := json.Marshal(dto.ToInvoiceDTO(invoice))
	if err != nil {
		return false, fmt.Errorf("marshal invoice: %w", err)
	}
	query := `
		INSERT INTO nfe_invoices (id, company_id, number, series, issue_date, status, access_key,
		                          recipient_name, grand_total, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (company_id, access_key) WHERE access_key IS NOT NULL DO UPDATE
		SET number         = EXCLUDED.number,
		    series         = EXCLUDED.series,
		    issue_date     = EXCLUDED.issue_date,
		    status         = EXCLUDED.status,
		    recipient_name = EXCLUDED.recipient_name,
		    grand_total    = EXCLUDED.grand_total,
		    payload        = EXCLUDED.payload || jsonb_build_object(
		                         'id', nfe_invoices.id::text,
		                         'created_at', nfe_invoices.payload->'created_at'),
		    updated_at     = EXCLUDED.updated_at
		RETURNING id::text, created_at, (xmax = 0) AS inserted`
	var created bool
	err = r.q.QueryRow(ctx, query,
		invoice.ID, invoice.CompanyID, invoice.Number, invoice.Series, invoice.IssueDate,
		string(invoice.Status), invoice.AccessKey, invoice.Recipient.Name,
		invoice.Totals.GrandTotal, payload, invoice.CreatedAt, invoice.UpdatedAt,
	).Scan(&invoice.ID, &invoice.CreatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert invoice: %w", err)
	}
	return created, nil
}

// GetByID obtiene la nota de la empresa; (nil, nil) si no existe.
func (r *InvoiceRepo) GetByID(ctx context.Context, companyID, id string) (*entity.Invoice, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	const query = `SELECT payload FROM nfe_invoices WHERE id = $1 AND company_id = $2`
	return r.getOne(ctx, query, id, companyID)
}

// GetByAccessKey obtiene la nota por chave de acesso; (nil, nil) si no existe.
func (r *InvoiceRepo) GetByAccessKey(ctx context.Context, companyID, accessKey string) (*entity.Invoice, error) {
	const query = `SELECT payload FROM nfe_invoices WHERE company_id = $1 AND access_key = $2`
	return r.getOne(ctx, query, companyID, accessKey)
}

func (r *InvoiceRepo) getOne(ctx context.Context, query string, args ...any) (*entity.Invoice, error) {
	var payload []byte
	err := r.q.QueryRow(ctx, query, args...).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return decodeInvoice(payload)
}

// List devuelve las notas de la empresa, más recientes primero.
func (r *InvoiceRepo) List(ctx context.Context, companyID string, filter repository.InvoiceFilter) ([]*entity.Invoice, error) {
	where := []string{"company_id = $1"}
	args := []any{companyID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("issue_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("issue_date < $%d", len(args)))
	}
	query := "SELECT payload FROM nfe_invoices WHERE " + strings.Join(where, " AND ") +
		" ORDER BY issue_date DESC, series, number DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var list []*entity.Invoice
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv, err := decodeInvoice(payload)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// Delete elimina la nota; las reglas de estado las aplica el caso de uso.
func (r *InvoiceRepo) Delete(ctx context.Context, companyID, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM nfe_invoices WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NextNumber reserva el próximo número de la serie. Nunca queda por debajo del mayor
// número ya guardado, así las notas importadas no se vuelven a numerar.
func (r *InvoiceRepo) NextNumber(ctx context.Context, companyID string, series int) (int, error) {
	query := `
		INSERT INTO nfe_numbering (company_id, series, last_number)
		VALUES ($1, $2, COALESCE((SELECT MAX(number) FROM nfe_invoices WHERE company_id = $1 AND series = $2), 0) + 1)
		ON CONFLICT (company_id, series) DO UPDATE
		SET last_number = GREATEST(
		        nfe_numbering.last_number,
		        COALESCE((SELECT MAX(number) FROM nfe_invoices WHERE company_id = $1 AND series = $2), 0)
		    ) + 1
		RETURNING last_number`
	var n int
	if err := r.q.QueryRow(ctx, query, companyID, series).Scan(&n); err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return n, nil
}

func decodeInvoice(payload []byte) (*entity.Invoice, error) {
	var d dto.InvoiceDTO
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode invoice payload: %w", err)
	}
	inv, err := d.ToEntity()
	if err != nil {
		return nil, fmt.Errorf("decode invoice payload: %w", err)
	}
	return inv, nil
}

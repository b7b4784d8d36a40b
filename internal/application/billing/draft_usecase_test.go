package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/application/billing"
	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/logger"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

func newDraftUseCase(repo *memInvoiceRepo) *billing.DraftUseCase {
	return billing.NewDraftUseCase(&memTxRunner{repo: repo}, repo, logger.Nop(), fixedClock())
}

func TestDraftCreate_NumeraYCalcula(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)

	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)

	assert.Equal(t, 1, inv.Number)
	assert.Equal(t, 1, inv.Series)
	assert.Equal(t, entity.StatusDraft, inv.Status)
	assert.Equal(t, "11444777000161", inv.Recipient.CNPJ)
	assert.Equal(t, nfe.PurposeNormal, inv.Purpose)
	assert.Equal(t, nfe.FreightNone, inv.FreightMode)
	assert.True(t, dec("150.00").Equal(inv.Totals.GrandTotal))
	assert.True(t, dec("27.00").Equal(inv.Totals.ICMSValue))
	assert.Equal(t, nfe.OriginNational, inv.Items[0].Tax.Origin)

	second, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, inv.ID, repo.stored(t, inv.ID).ID)
}

func TestDraftCreate_SinPerfilDeEmisor(t *testing.T) {
	s := testSession()
	s.Issuer = entity.IssuerProfile{}

	_, err := newDraftUseCase(newMemInvoiceRepo()).Create(context.Background(), s, testInput())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDraftCreate_ItemSinICMS(t *testing.T) {
	in := testInput()
	in.Items[0].ICMS = dto.ICMSDTO{}

	_, err := newDraftUseCase(newMemInvoiceRepo()).Create(context.Background(), testSession(), in)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, domain.Fields(err), "items[0].icms")
}

func TestDraftCreate_DescuentoMayorQueTotalSeLlevaACero(t *testing.T) {
	in := testInput()
	in.Adjustments.Discount = dec("500.00")
	in.Payments = []dto.PaymentDTO{{Method: nfe.PaymentNone}}

	inv, err := newDraftUseCase(newMemInvoiceRepo()).Create(context.Background(), testSession(), in)
	require.NoError(t, err)
	assert.True(t, inv.TotalsClamped)
	assert.True(t, inv.Totals.GrandTotal.IsZero())
}

func TestDraftCreate_AjusteNegativo(t *testing.T) {
	in := testInput()
	in.Adjustments.Freight = dec("-1")

	_, err := newDraftUseCase(newMemInvoiceRepo()).Create(context.Background(), testSession(), in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDraftUpdate_PasaAEdicionYNoCambiaSerie(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)
	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)

	in := testInput()
	in.Items[0].Quantity = dec("2")
	in.Payments[0].Amount = dec("30.00")
	updated, err := uc.Update(context.Background(), testSession(), inv.ID, in)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusEditing, updated.Status)
	assert.True(t, dec("30.00").Equal(repo.stored(t, inv.ID).Totals.GrandTotal))

	in.Series = 2
	_, err = uc.Update(context.Background(), testSession(), inv.ID, in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDraftUpdate_NotaAutorizadaNoSeEdita(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)
	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)
	inv.Status = entity.StatusAuthorized
	require.NoError(t, repo.Update(context.Background(), inv))

	_, err = uc.Update(context.Background(), testSession(), inv.ID, testInput())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDraftGet_OtraEmpresaNoLaVe(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)
	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)

	other := testSession()
	other.CompanyID = "company-2"
	_, err = uc.Get(context.Background(), other, inv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = uc.Get(context.Background(), entity.Session{}, inv.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDraftList_EstadoDesconocido(t *testing.T) {
	uc := newDraftUseCase(newMemInvoiceRepo())
	_, err := uc.List(context.Background(), testSession(), repository.InvoiceFilter{Status: "pending"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDraftList_FiltraPorEstado(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)
	for i := 0; i < 3; i++ {
		_, err := uc.Create(context.Background(), testSession(), testInput())
		require.NoError(t, err)
	}
	list, err := uc.List(context.Background(), testSession(), repository.InvoiceFilter{Status: entity.StatusDraft})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = uc.List(context.Background(), testSession(), repository.InvoiceFilter{Status: entity.StatusAuthorized})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDraftDelete_SoloBorradores(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)
	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)

	_, err = uc.Update(context.Background(), testSession(), inv.ID, testInput())
	require.NoError(t, err)
	assert.ErrorIs(t, uc.Delete(context.Background(), testSession(), inv.ID), domain.ErrValidation)

	draft, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)
	require.NoError(t, uc.Delete(context.Background(), testSession(), draft.ID))
	_, err = uc.Get(context.Background(), testSession(), draft.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDraftReopen_DenegadaConsumeNumero(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)
	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)

	inv.Status = entity.StatusRejected
	inv.StatusCode = nfe.StatusDenied
	inv.AccessKey = "35241011222333000181550010000000011456789120"
	require.NoError(t, repo.Update(context.Background(), inv))

	reopened, err := uc.Reopen(context.Background(), testSession(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusEditing, reopened.Status)
	assert.Equal(t, 2, reopened.Number)
	assert.Empty(t, reopened.AccessKey)
}

func TestDraftReopen_RechazoConservaNumero(t *testing.T) {
	repo := newMemInvoiceRepo()
	uc := newDraftUseCase(repo)
	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)

	inv.Status = entity.StatusRejected
	inv.StatusCode = 225
	require.NoError(t, repo.Update(context.Background(), inv))

	reopened, err := uc.Reopen(context.Background(), testSession(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Number)
}

func TestDraftReopen_FalloRevierteTransaccion(t *testing.T) {
	repo := newMemInvoiceRepo()
	tx := &memTxRunner{repo: repo}
	uc := billing.NewDraftUseCase(tx, repo, logger.Nop(), fixedClock())
	inv, err := uc.Create(context.Background(), testSession(), testInput())
	require.NoError(t, err)
	inv.Status = entity.StatusRejected
	require.NoError(t, repo.Update(context.Background(), inv))

	repo.updateErr = errors.New("conexión perdida")
	_, err = uc.Reopen(context.Background(), testSession(), inv.ID)
	require.Error(t, err)
	assert.True(t, tx.rollback)
	repo.updateErr = nil
	assert.Equal(t, entity.StatusRejected, repo.stored(t, inv.ID).Status)
}

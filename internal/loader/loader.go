// Package loader commits one chunk's normalized drafts to the relational
// model in dependency order: stores and products first, then invoices, then
// order lines. The whole chunk is one transaction; individual bad rows are
// excluded from the insert set and reported, they never roll the chunk back.
package loader

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/ingest"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/repos"
	"github.com/mangalm/sales-backend/internal/types"
)

// RowFailure is a row the loader had to exclude from the commit.
type RowFailure struct {
	RowNumber int64
	Kind      string
	Message   string
}

// Result summarizes one committed chunk.
type Result struct {
	LoadedRows int64
	Failures   []RowFailure
}

type Loader struct {
	db       *gorm.DB
	log      *logger.Logger
	stores   repos.StoreRepo
	products repos.ProductRepo
	invoices repos.InvoiceRepo
	lines    repos.OrderLineRepo
}

func New(db *gorm.DB, baseLog *logger.Logger, stores repos.StoreRepo, products repos.ProductRepo, invoices repos.InvoiceRepo, lines repos.OrderLineRepo) *Loader {
	return &Loader{
		db:       db,
		log:      baseLog.With("service", "Loader"),
		stores:   stores,
		products: products,
		invoices: invoices,
		lines:    lines,
	}
}

// LoadChunk upserts the drafts inside a single transaction. Rows referencing
// a parent that cannot be resolved in the first pass are deferred to a second
// pass within the same transaction; rows still unresolved after that are
// reported as unresolved-reference failures, never loaded with a placeholder
// parent. A returned error means the whole transaction rolled back and the
// chunk should be retried.
func (l *Loader) LoadChunk(ctx context.Context, jobID uuid.UUID, drafts []*ingest.DraftRow) (*Result, error) {
	res := &Result{}
	if len(drafts) == 0 {
		return res, nil
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		storeIDs := make(map[string]uuid.UUID)
		productIDs := make(map[string]uuid.UUID)
		invoiceIDs := make(map[string]uuid.UUID)

		// Pass 1: parents. Each draft carries its own store and product, so
		// upserting them row by row fills the lookup maps for the passes below.
		for _, d := range drafts {
			if _, ok := storeIDs[d.CustomerName]; !ok {
				store, err := l.stores.UpsertByName(ctx, tx, &types.Store{Name: d.CustomerName})
				if err != nil {
					return fmt.Errorf("upsert store %q: %w", d.CustomerName, err)
				}
				storeIDs[d.CustomerName] = store.ID
			}
			if _, ok := productIDs[d.ProductName]; !ok {
				product, err := l.products.UpsertByName(ctx, tx, &types.Product{
					Name:     d.ProductName,
					Category: d.Category,
					Brand:    d.Brand,
					Price:    d.UnitPrice,
					IsActive: true,
				})
				if err != nil {
					return fmt.Errorf("upsert product %q: %w", d.ProductName, err)
				}
				productIDs[d.ProductName] = product.ID
			}
		}

		// Pass 2: invoices, deferring rows whose store is not yet resolvable.
		var deferred []*ingest.DraftRow
		resolveInvoice := func(d *ingest.DraftRow) (bool, error) {
			if _, ok := invoiceIDs[d.InvoiceNumber]; ok {
				return true, nil
			}
			storeID, ok := storeIDs[d.CustomerName]
			if !ok {
				return false, nil
			}
			invoice, err := l.invoices.UpsertByNumber(ctx, tx, &types.Invoice{
				InvoiceNumber: d.InvoiceNumber,
				StoreID:       storeID,
				InvoiceDate:   d.InvoiceDate,
				SourceJobID:   jobID,
			})
			if err != nil {
				return false, fmt.Errorf("upsert invoice %q: %w", d.InvoiceNumber, err)
			}
			invoiceIDs[d.InvoiceNumber] = invoice.ID
			return true, nil
		}
		for _, d := range drafts {
			ok, err := resolveInvoice(d)
			if err != nil {
				return err
			}
			if !ok {
				deferred = append(deferred, d)
			}
		}
		for _, d := range deferred {
			if _, err := resolveInvoice(d); err != nil {
				return err
			}
		}

		// Pass 3: order lines. A line missing its invoice or product after
		// both passes is excluded and reported, committed rows stand.
		touched := make(map[uuid.UUID]bool)
		for _, d := range drafts {
			invoiceID, haveInvoice := invoiceIDs[d.InvoiceNumber]
			productID, haveProduct := productIDs[d.ProductName]
			if !haveInvoice || !haveProduct {
				res.Failures = append(res.Failures, RowFailure{
					RowNumber: d.RowNumber,
					Kind:      types.ErrorKindUnresolvedReference,
					Message:   fmt.Sprintf("row %d: unresolved parent for invoice %q", d.RowNumber, d.InvoiceNumber),
				})
				continue
			}
			_, err := l.lines.UpsertByHash(ctx, tx, &types.OrderLine{
				InvoiceID:       invoiceID,
				ProductID:       productID,
				ProductName:     d.ProductName,
				Quantity:        d.Quantity,
				UnitPrice:       d.UnitPrice,
				TotalPrice:      d.LineTotal,
				LineHash:        d.Hash,
				SourceJobID:     jobID,
				SourceRowNumber: d.RowNumber,
			})
			if err != nil {
				return fmt.Errorf("upsert order line row %d: %w", d.RowNumber, err)
			}
			touched[invoiceID] = true
			res.LoadedRows++
		}

		for invoiceID := range touched {
			if err := l.invoices.RecalculateTotal(ctx, tx, invoiceID); err != nil {
				return fmt.Errorf("recalculate invoice total: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

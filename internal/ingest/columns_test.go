package ingest

import (
	"errors"
	"testing"
)

func TestResolveColumnsAliases(t *testing.T) {
	header := []string{"Invoice ID", "Created Time", "Customer Name", "Item Name", "Item Price", "Quantity", "Total"}

	cm, err := ResolveColumns(header)
	if err != nil {
		t.Fatalf("ResolveColumns: %v", err)
	}

	fields, ragged := cm.MapRow([]string{"INV-1", "2024-01-05", "Shah Bros", "Basmati Rice", "$12.50", "2", "25.00"})
	if ragged {
		t.Fatalf("full-width row reported ragged")
	}
	want := map[string]string{
		FieldInvoiceNumber: "INV-1",
		FieldInvoiceDate:   "2024-01-05",
		FieldCustomerName:  "Shah Bros",
		FieldProductName:   "Basmati Rice",
		FieldUnitPrice:     "$12.50",
		FieldQuantity:      "2",
		FieldLineTotal:     "25.00",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Fatalf("field %s: want=%q got=%q", k, v, fields[k])
		}
	}
}

func TestResolveColumnsNormalizesSpelling(t *testing.T) {
	// Same logical header in three different export spellings.
	headers := [][]string{
		{"invoice_no", "customer", "item", "qty"},
		{"Invoice No.", "Store Name", "Product", "Units"},
		{"INVOICE NUMBER", "Client Name", "Item Description", "Item Quantity"},
	}
	for _, h := range headers {
		if _, err := ResolveColumns(h); err != nil {
			t.Fatalf("ResolveColumns(%v): %v", h, err)
		}
	}
}

func TestResolveColumnsMissingRequired(t *testing.T) {
	_, err := ResolveColumns([]string{"Invoice ID", "Item Name", "Quantity"})

	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("want SchemaError got %v", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != FieldCustomerName {
		t.Fatalf("missing: want=[%s] got=%v", FieldCustomerName, serr.Missing)
	}
}

func TestResolveColumnsIgnoresUnknownAndDuplicate(t *testing.T) {
	header := []string{"Invoice ID", "Customer Name", "Item Name", "Quantity", "Warehouse Zone", "Qty"}

	cm, err := ResolveColumns(header)
	if err != nil {
		t.Fatalf("ResolveColumns: %v", err)
	}

	// First "Quantity" wins; the trailing "Qty" duplicate must not shadow it.
	fields, _ := cm.MapRow([]string{"INV-1", "Shah Bros", "Rice", "3", "Z-9", "999"})
	if fields[FieldQuantity] != "3" {
		t.Fatalf("quantity: want=%q got=%q", "3", fields[FieldQuantity])
	}
}

func TestMapRowRagged(t *testing.T) {
	cm, err := ResolveColumns([]string{"Invoice ID", "Customer Name", "Item Name", "Quantity"})
	if err != nil {
		t.Fatalf("ResolveColumns: %v", err)
	}

	short, ragged := cm.MapRow([]string{"INV-1", "Shah Bros"})
	if !ragged {
		t.Fatalf("short row not reported ragged")
	}
	if short[FieldQuantity] != "" {
		t.Fatalf("missing column should read empty, got %q", short[FieldQuantity])
	}

	_, ragged = cm.MapRow([]string{"INV-1", "Shah Bros", "Rice", "2", "extra"})
	if !ragged {
		t.Fatalf("long row not reported ragged")
	}
}

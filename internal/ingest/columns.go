package ingest

import "strings"

// Canonical field names a physical column header resolves to.
const (
	FieldInvoiceNumber = "invoiceNumber"
	FieldInvoiceDate   = "invoiceDate"
	FieldCustomerName  = "customerName"
	FieldProductName   = "productName"
	FieldQuantity      = "quantity"
	FieldUnitPrice     = "unitPrice"
	FieldLineTotal     = "lineTotal"
)

// requiredFields must all resolve or the job fails with SchemaError.
var requiredFields = []string{
	FieldInvoiceNumber,
	FieldCustomerName,
	FieldProductName,
	FieldQuantity,
}

// fieldAliases lists the header spellings seen across real exports. Matching
// is on the normalized form (lowercased, non-alphanumerics stripped), so
// "Invoice No", "invoice_no" and "InvoiceNo." all land on invoiceNumber.
var fieldAliases = map[string][]string{
	FieldInvoiceNumber: {"invoice id", "invoice no", "invoice number", "invoice_no", "inv no", "inv number", "bill no"},
	FieldInvoiceDate:   {"invoice date", "date", "created time", "bill date", "order date"},
	FieldCustomerName:  {"customer name", "customer", "store name", "store", "client name"},
	FieldProductName:   {"item name", "product name", "item", "product", "item description", "description"},
	FieldQuantity:      {"quantity", "qty", "units", "item quantity"},
	FieldUnitPrice:     {"item price", "unit price", "price", "rate", "price per unit"},
	FieldLineTotal:     {"total", "line total", "amount", "total price", "item total", "net amount"},
}

func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ColumnMap maps a physical column index to its canonical field name.
type ColumnMap struct {
	byIndex map[int]string
	width   int
}

// ResolveColumns resolves an arbitrary header row against the alias table.
// Unknown columns are ignored; a missing required column is a SchemaError.
func ResolveColumns(header []string) (*ColumnMap, error) {
	aliasIndex := make(map[string]string)
	for canonical, aliases := range fieldAliases {
		for _, a := range aliases {
			aliasIndex[normalizeHeader(a)] = canonical
		}
		// A header spelled exactly as the canonical name also resolves.
		aliasIndex[normalizeHeader(canonical)] = canonical
	}

	cm := &ColumnMap{byIndex: make(map[int]string), width: len(header)}
	seen := make(map[string]bool)
	for i, h := range header {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		canonical, ok := aliasIndex[key]
		if !ok || seen[canonical] {
			continue
		}
		cm.byIndex[i] = canonical
		seen[canonical] = true
	}

	var missing []string
	for _, f := range requiredFields {
		if !seen[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing, Header: header}
	}
	return cm, nil
}

// MapRow projects a raw record onto canonical field names. Ragged rows are
// tolerated: short rows read as empty fields, extra fields are dropped. The
// second return reports that padding or truncation happened so the caller
// can log a warning.
func (cm *ColumnMap) MapRow(fields []string) (map[string]string, bool) {
	ragged := len(fields) != cm.width
	out := make(map[string]string, len(cm.byIndex))
	for idx, canonical := range cm.byIndex {
		if idx < len(fields) {
			out[canonical] = strings.TrimSpace(fields[idx])
		} else {
			out[canonical] = ""
		}
	}
	return out, ragged
}

// Fields returns the canonical names this map resolved, for logging.
func (cm *ColumnMap) Fields() []string {
	out := make([]string, 0, len(cm.byIndex))
	for _, f := range cm.byIndex {
		out = append(out, f)
	}
	return out
}

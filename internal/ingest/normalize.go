package ingest

import (
	"strconv"
	"strings"
	"time"
)

// DraftRow is one accepted row normalized into entity drafts, ready for the
// loader. Provenance travels with it so committed entities can be traced back
// to the source row.
type DraftRow struct {
	RowNumber     int64
	InvoiceNumber string
	CustomerName  string
	ProductName   string
	Category      string
	Brand         string
	Quantity      float64
	UnitPrice     float64
	LineTotal     float64
	InvoiceDate   *time.Time
	Hash          string
}

// Normalizer converts a column-mapped raw row into a DraftRow, applying every
// validation rule before reporting, so a bad row surfaces all of its problems
// in a single upload attempt.
type Normalizer struct {
	// ReconcileTolerance is the allowed relative drift between
	// quantity*unitPrice and a provided line total.
	ReconcileTolerance float64
}

func NewNormalizer(tolerance float64) *Normalizer {
	if tolerance <= 0 {
		tolerance = 0.01
	}
	return &Normalizer{ReconcileTolerance: tolerance}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	time.RFC3339,
}

// Normalize validates fields exhaustively and returns either a draft or a
// ValidationError listing every violated rule. It never returns both.
func (n *Normalizer) Normalize(rowNumber int64, fields map[string]string) (*DraftRow, *ValidationError) {
	verr := &ValidationError{RowNumber: rowNumber}

	invoiceNumber := fields[FieldInvoiceNumber]
	if invoiceNumber == "" {
		verr.Add("missing required field %s", FieldInvoiceNumber)
	}
	customerName := fields[FieldCustomerName]
	if customerName == "" {
		verr.Add("missing required field %s", FieldCustomerName)
	}
	productName := fields[FieldProductName]
	if productName == "" {
		verr.Add("missing required field %s", FieldProductName)
	}

	quantity := 0.0
	if raw := fields[FieldQuantity]; raw == "" {
		verr.Add("missing required field %s", FieldQuantity)
	} else if q, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64); err != nil {
		verr.Add("non-numeric %s %q", FieldQuantity, raw)
	} else if q <= 0 {
		verr.Add("%s must be positive, got %v", FieldQuantity, q)
	} else {
		quantity = q
	}

	unitPrice := 0.0
	havePrice := false
	if raw := fields[FieldUnitPrice]; raw != "" {
		p, err := parseMoney(raw)
		if err != nil {
			verr.Add("non-numeric %s %q", FieldUnitPrice, raw)
		} else if p < 0 {
			verr.Add("%s must not be negative, got %v", FieldUnitPrice, p)
		} else {
			unitPrice = p
			havePrice = true
		}
	}

	lineTotal := 0.0
	haveTotal := false
	if raw := fields[FieldLineTotal]; raw != "" {
		t, err := parseMoney(raw)
		if err != nil {
			verr.Add("non-numeric %s %q", FieldLineTotal, raw)
		} else {
			lineTotal = t
			haveTotal = true
		}
	}

	var invoiceDate *time.Time
	if raw := fields[FieldInvoiceDate]; raw != "" {
		d, ok := parseDate(raw)
		if !ok {
			verr.Add("invalid %s %q", FieldInvoiceDate, raw)
		} else {
			invoiceDate = &d
		}
	}

	// Arithmetic reconciliation: a provided total must agree with
	// quantity * unitPrice, instead of being silently trusted.
	if havePrice && haveTotal && quantity > 0 {
		expected := quantity * unitPrice
		drift := expected - lineTotal
		if drift < 0 {
			drift = -drift
		}
		limit := n.ReconcileTolerance * absMax(1, lineTotal)
		if drift > limit {
			verr.Add("reconciliation mismatch: %v x %v = %v but %s is %v", quantity, unitPrice, expected, FieldLineTotal, lineTotal)
		}
	}
	if !haveTotal && havePrice {
		lineTotal = quantity * unitPrice
	}

	if verr.HasViolations() {
		return nil, verr
	}

	return &DraftRow{
		RowNumber:     rowNumber,
		InvoiceNumber: invoiceNumber,
		CustomerName:  customerName,
		ProductName:   productName,
		Category:      deriveCategory(productName),
		Brand:         deriveBrand(productName),
		Quantity:      quantity,
		UnitPrice:     unitPrice,
		LineTotal:     lineTotal,
		InvoiceDate:   invoiceDate,
		Hash:          LineHash(invoiceNumber, productName, quantity, unitPrice),
	}, nil
}

// parseMoney parses a currency amount, stripping symbols and thousands
// separators the way the upstream exports write them ("$1,234.50").
func parseMoney(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "₹", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var foodMarkers = []string{"rice", "dal", "flour", "oil", "spice"}

func deriveCategory(itemName string) string {
	lower := strings.ToLower(itemName)
	for _, m := range foodMarkers {
		if strings.Contains(lower, m) {
			return "Food"
		}
	}
	return "Grocery"
}

func deriveBrand(itemName string) string {
	name := strings.TrimSpace(itemName)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return "Generic"
}

func absMax(a, b float64) float64 {
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

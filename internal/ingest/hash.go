package ingest

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// LineHash is the dedup business key: invoice number plus line-item identity
// (product, quantity, unit price), hashed with xxh3-128. Whole-row hashing
// was rejected because cosmetic changes between re-exports (date formatting,
// extra columns) would defeat duplicate detection.
func LineHash(invoiceNumber, productName string, quantity, unitPrice float64) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(invoiceNumber)))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(productName)))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(quantity, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(unitPrice, 'f', -1, 64))

	sum := xxh3.Hash128([]byte(b.String())).Bytes()
	return hex.EncodeToString(sum[:])
}

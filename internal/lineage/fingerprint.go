// Package lineage captures content fingerprints of the source rows a
// score was computed from and re-checks them later for tampering.
package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ngn-platform/score-integrity/internal/model"
)

// Fingerprint hashes the scoring-relevant fields of a source row into a
// stable hex digest. The field order and encodings are fixed: changing
// either invalidates every stored lineage record.
func Fingerprint(row *model.SignalRow) string {
	var b strings.Builder
	b.WriteString(row.EntityID)
	b.WriteByte('|')
	b.WriteString(string(row.SignalType))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(row.Value, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(row.ObservedAt.UTC().Format(time.RFC3339Nano))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RowRef formats a source row reference as table/id for issue records
// and log lines.
func RowRef(sourceTable, rowID string) string {
	return sourceTable + "/" + rowID
}

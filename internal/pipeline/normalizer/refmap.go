package normalizer

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/Bwenz68/supply-signals/internal/domain/model"
)

// LoadIssuerRefMap reads the company universe TSV (headers: ticker, cik,
// name, ...) into a map keyed by canonical 10-digit CIK. A missing file is
// not an error: enrichment simply has nothing to add.
func LoadIssuerRefMap(path string) (map[string]model.IssuerRef, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.IssuerRef{}, nil
		}
		return nil, fmt.Errorf("open issuer reference map %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read issuer reference map %s: %w", path, err)
	}
	if len(rows) == 0 {
		return map[string]model.IssuerRef{}, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	m := make(map[string]model.IssuerRef, len(rows)-1)
	for _, row := range rows[1:] {
		cik := model.CanonicalCIK(get(row, "cik"))
		if cik == "" {
			continue
		}
		m[cik] = model.IssuerRef{
			Ticker:  model.CanonicalTicker(get(row, "ticker")),
			Company: get(row, "name"),
		}
	}
	return m, nil
}

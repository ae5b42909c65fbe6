package neurons

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// NameColumn is the TSV header holding neuron names
const NameColumn = "NAME"

// LoadResult summarizes a batch import
type LoadResult struct {
	Rows    int
	Created int
}

// LoadFile imports a tab-separated neuron list into the store
func LoadFile(ctx context.Context, s *Store, path string) (LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to open neuron list: %w", err)
	}
	defer f.Close()
	return Load(ctx, s, f)
}

// Load reads a tab-separated list with a NAME column and get-or-creates every
// row. Running it twice on the same input creates nothing the second time.
func Load(ctx context.Context, s *Store, r io.Reader) (LoadResult, error) {
	var res LoadResult

	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return res, errors.New("neuron list is empty")
	}
	if err != nil {
		return res, fmt.Errorf("failed to read header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == NameColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return res, fmt.Errorf("neuron list has no %s column", NameColumn)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read row %d: %w", res.Rows+1, err)
		}
		if col >= len(record) {
			continue
		}
		name := strings.TrimSpace(record[col])
		if name == "" {
			continue
		}

		n, created, err := s.GetOrCreate(ctx, name)
		if err != nil {
			return res, err
		}
		res.Rows++
		if created {
			res.Created++
			log.Printf("Created new record: Neuron:%s", n)
		}
	}

	return res, nil
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/inventory-tracker/internal/model"
)

// seedFile is the YAML layout accepted by Seed:
//
//	items:
//	  - name: Game
//	    price: "100.00"
//	    quantity: 20
type seedFile struct {
	Items []seedItem `yaml:"items"`
}

type seedItem struct {
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Quantity int    `yaml:"quantity"`
}

// Seed loads the items listed in a YAML file into s. Nothing is written
// when the store already holds items. It returns the number of items created.
func Seed(ctx context.Context, s Store, path string) (int, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("read seed file %s: %w", path, err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	existing, err := s.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for i, entry := range file.Items {
		item, err := entry.toItem()
		if err != nil {
			return created, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if _, err := s.Create(ctx, &item); err != nil {
			return created, fmt.Errorf("seed entry %d: %w", i, err)
		}
		created++
	}

	return created, nil
}

func (e seedItem) toItem() (model.Item, error) {
	price := decimal.Zero
	if e.Price != "" {
		parsed, err := decimal.NewFromString(e.Price)
		if err != nil {
			return model.Item{}, fmt.Errorf("parse price %q: %w", e.Price, err)
		}
		price = parsed
	}

	item := model.Item{
		Name:     e.Name,
		Price:    price,
		Quantity: e.Quantity,
	}
	if err := item.Validate(); err != nil {
		return model.Item{}, err
	}

	return item, nil
}

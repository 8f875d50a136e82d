package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/types"
)

// SeedProduct is one catalog row. Category is resolved by name and created
// when missing.
type SeedProduct struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
	Images      types.ImageList
}

var defaultCategories = []types.Category{
	{Name: "Vitamins", Description: "Essential vitamins for daily health support"},
	{Name: "Supplements", Description: "Dietary supplements for specific health needs"},
	{Name: "Health Packs", Description: "Combination health packs for overall wellness"},
	{Name: "Beauty Products", Description: "Beauty and skincare products"},
}

var defaultProducts = []SeedProduct{
	{"Vitamin C Gold", "Premium Vitamin C supplement for immune support", decimal.RequireFromString("599.99"), 100, "Vitamins", types.ImageList{"/VIT-BOO-DAL-GLD.jpg"}},
	{"Vitamin B Complex", "Complete B vitamin complex for energy and metabolism", decimal.RequireFromString("499.99"), 100, "Vitamins", types.ImageList{"/VIT-BOO-GUY-PLA.jpg"}},
	{"Vitamin D Gold", "High-potency Vitamin D for bone health", decimal.RequireFromString("549.99"), 100, "Vitamins", types.ImageList{"/VIT-BOO-DAL-GLD.jpg"}},
	{"Herbal Supplement", "Natural herbal supplement for overall wellness", decimal.RequireFromString("399.99"), 100, "Supplements", types.ImageList{"/VIT-HER-3N1-SHM.jpg"}},
	{"Protein Supplement", "High-quality protein supplement for muscle support", decimal.RequireFromString("699.99"), 100, "Supplements", types.ImageList{"/SHM-PAT-ANT-DAN.jpg"}},
	{"Premium Health Pack", "Complete health pack with essential nutrients", decimal.RequireFromString("1299.99"), 50, "Health Packs", types.ImageList{"/HPCK-MELON-PREM.jpg"}},
	{"Fruit Medley Pack", "Nutritious fruit combination pack", decimal.RequireFromString("899.99"), 50, "Health Packs", types.ImageList{"/HP-FRUIT-MEDLEY.jpg"}},
	{"Fat Away Pack", "Weight management support pack", decimal.RequireFromString("799.99"), 50, "Health Packs", types.ImageList{"/H-PACK-FAT-AWAY.jpg"}},
	{"Lip Tint", "Natural lip tint for beautiful lips", decimal.RequireFromString("299.99"), 100, "Beauty Products", types.ImageList{"/GAB-LIP-TINT-01.jpg"}},
	{"Moringa Oil", "Pure moringa oil for skin and hair", decimal.RequireFromString("399.99"), 100, "Beauty Products", types.ImageList{"/DAL-MORINGA-OIL.jpg"}},
}

// SeedDefaults loads the built-in demo catalog.
func SeedDefaults(ctx context.Context, store Storage) (int, error) {
	return seedWith(ctx, store, defaultCategories, defaultProducts)
}

// ParseSeedFile reads lines of the form name;description;price;stock;category.
// Blank lines and lines starting with # are skipped.
func ParseSeedFile(r io.Reader) ([]SeedProduct, error) {
	var rows []SeedProduct
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanLines)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		strs := strings.Split(line, ";")
		if len(strs) != 5 {
			return nil, fmt.Errorf("line %d: expected 5 fields, got %d", lineNo, len(strs))
		}
		price, err := decimal.NewFromString(strings.TrimSpace(strs[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad price: %w", lineNo, err)
		}
		stock, err := strconv.Atoi(strings.TrimSpace(strs[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad stock: %w", lineNo, err)
		}
		rows = append(rows, SeedProduct{
			Name:        strings.TrimSpace(strs[0]),
			Description: strings.TrimSpace(strs[1]),
			Price:       price,
			Stock:       stock,
			Category:    strings.TrimSpace(strs[4]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// SeedProducts inserts rows in one transaction, creating categories on demand.
func SeedProducts(ctx context.Context, store Storage, rows []SeedProduct) (int, error) {
	return seedWith(ctx, store, nil, rows)
}

func seedWith(ctx context.Context, store Storage, cats []types.Category, rows []SeedProduct) (int, error) {
	inserted := 0
	err := store.WithTx(ctx, func(tx Storage) error {
		byName := map[string]string{}
		resolve := func(name, desc string) (string, error) {
			if id, ok := byName[name]; ok {
				return id, nil
			}
			c, err := tx.GetCategoryByName(ctx, name)
			if apperr.IsNotFound(err) {
				c = &types.Category{Name: name, Description: desc}
				err = tx.CreateCategory(ctx, c)
			}
			if err != nil {
				return "", err
			}
			byName[name] = c.ID
			return c.ID, nil
		}
		for _, c := range cats {
			if _, err := resolve(c.Name, c.Description); err != nil {
				return err
			}
		}
		for _, row := range rows {
			if row.Name == "" || row.Category == "" {
				return apperr.Validation("storage.Seed", "product name and category are required")
			}
			if row.Price.IsNegative() || row.Stock < 0 {
				return apperr.Validation("storage.Seed", "%s: price and stock must not be negative", row.Name)
			}
			catID, err := resolve(row.Category, "")
			if err != nil {
				return err
			}
			p := &types.Product{
				Name:        row.Name,
				Description: row.Description,
				Price:       row.Price,
				Stock:       row.Stock,
				Status:      types.ProductActive,
				CategoryID:  catID,
				Images:      row.Images,
			}
			if err := tx.CreateProduct(ctx, p); err != nil {
				return fmt.Errorf("insert %q: %w", row.Name, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Package spreadsheet moves the product catalog in and out of .xlsx files.
package spreadsheet

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"github.com/ivanstrassberg/storefront/internal/types"
)

const (
	SheetName   = "Products"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Header is the column layout of exported and imported sheets.
var Header = []string{"ID", "Name", "Description", "Price", "Stock", "Status", "Category", "Images", "CreatedAt", "UpdatedAt"}

const (
	colID = iota
	colName
	colDescription
	colPrice
	colStock
	colStatus
	colCategory
	colImages
)

// Row is one parsed product line. ID is empty for new products.
type Row struct {
	Line        int
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Status      types.ProductStatus
	Category    string
	Images      types.ImageList
}

// RowError reports a line that was skipped.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %s", e.Line, e.Reason) }

// WriteProducts renders products as a single-sheet workbook.
func WriteProducts(w io.Writer, products []types.Product) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	headerRow := sheet.AddRow()
	for _, h := range Header {
		headerRow.AddCell().SetString(h)
	}
	for _, p := range products {
		row := sheet.AddRow()
		category := ""
		if p.Category != nil {
			category = p.Category.Name
		}
		images, err := json.Marshal(p.Images)
		if err != nil {
			return err
		}
		row.AddCell().SetString(p.ID)
		row.AddCell().SetString(p.Name)
		row.AddCell().SetString(p.Description)
		row.AddCell().SetString(p.Price.StringFixed(2))
		row.AddCell().SetInt(p.Stock)
		row.AddCell().SetString(string(p.Status))
		row.AddCell().SetString(category)
		row.AddCell().SetString(string(images))
		row.AddCell().SetString(p.CreatedAt.Format("2006-01-02 15:04:05"))
		row.AddCell().SetString(p.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return file.Write(w)
}

// ReadProducts parses the first sheet of a workbook. Rows that cannot be
// parsed are reported and skipped; the header row is required.
func ReadProducts(r io.ReaderAt, size int64) ([]Row, []RowError, error) {
	file, err := xlsx.OpenReaderAt(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("parse workbook: %w", err)
	}
	if len(file.Sheets) == 0 || len(file.Sheets[0].Rows) < 1 {
		return nil, nil, fmt.Errorf("workbook is empty or missing header row")
	}
	sheet := file.Sheets[0]

	var rows []Row
	var skipped []RowError
	for i := 1; i < len(sheet.Rows); i++ {
		xr := sheet.Rows[i]
		line := i + 1
		if xr == nil || blank(xr) {
			continue
		}
		row, err := parseRow(xr, line)
		if err != nil {
			skipped = append(skipped, RowError{Line: line, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

func cell(row *xlsx.Row, i int) string {
	if i >= len(row.Cells) || row.Cells[i] == nil {
		return ""
	}
	return strings.TrimSpace(row.Cells[i].String())
}

func blank(row *xlsx.Row) bool {
	for i := range row.Cells {
		if cell(row, i) != "" {
			return false
		}
	}
	return true
}

func parseRow(xr *xlsx.Row, line int) (Row, error) {
	row := Row{
		Line:        line,
		ID:          cell(xr, colID),
		Name:        cell(xr, colName),
		Description: cell(xr, colDescription),
		Category:    cell(xr, colCategory),
		Images:      types.ParseImages(cell(xr, colImages)),
	}
	if row.Name == "" {
		return row, fmt.Errorf("name is required")
	}
	if row.Category == "" {
		return row, fmt.Errorf("category is required")
	}
	price, err := decimal.NewFromString(cell(xr, colPrice))
	if err != nil || price.IsNegative() {
		return row, fmt.Errorf("price must be a non-negative number")
	}
	row.Price = price.Round(2)

	stock := 0
	if s := cell(xr, colStock); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 || f != float64(int(f)) {
			return row, fmt.Errorf("stock must be a non-negative whole number")
		}
		stock = int(f)
	}
	row.Stock = stock

	switch status := types.ProductStatus(strings.ToUpper(cell(xr, colStatus))); status {
	case "":
		row.Status = types.ProductActive
	case types.ProductActive, types.ProductInactive:
		row.Status = status
	default:
		return row, fmt.Errorf("unknown status %q", status)
	}
	return row, nil
}

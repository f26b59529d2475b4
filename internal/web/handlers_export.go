package web

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/core"
	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/JonMunkholm/stockfeed/internal/logging"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Inventory"

var exportColumns = []string{
	"ID", "SKU", "Part Number", "Name", "Category", "Location",
	"Quantity", "Alt Quantity", "Status", "ETA", "Weight",
	"Shipping Weight", "Price", "Image URL",
}

// exportRow flattens a record in exportColumns order. Numbers stay typed
// so spreadsheets can sum them.
func exportRow(rec inventory.Record) []any {
	var alt any = ""
	if rec.AltQuantity != nil {
		alt = *rec.AltQuantity
	}
	return []any{
		rec.ID, rec.SKU, rec.PartNumber, rec.Name, rec.Category, rec.Location,
		rec.Quantity, alt, string(rec.Status), rec.ETA, rec.Weight,
		rec.ShippingWeight, rec.Price, rec.ImageURL,
	}
}

func formatCellForExport(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// handleExport downloads the visible records as CSV (default) or XLSX.
// The same filters as /api/inventory apply.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Inventory(r.Context(), s.includeHidden(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	records := inventory.Filter(view.Records, parseQuery(r))

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	timestamp := time.Now().Format("20060102_150405")
	switch format {
	case "csv":
		s.exportCSV(w, r, records, fmt.Sprintf("inventory_%s.csv", timestamp))
	case "xlsx":
		s.exportXLSX(w, r, view.Snapshot, records, fmt.Sprintf("inventory_%s.xlsx", timestamp))
	default:
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
	}
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request, records []inventory.Record, filename string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	logger := logging.FromContext(r.Context())

	// Headers are already sent; write errors can only be logged
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(exportColumns); err != nil {
		logger.Error("csv export failed", "error", err)
		return
	}

	line := make([]string, len(exportColumns))
	for _, rec := range records {
		for i, v := range exportRow(rec) {
			line[i] = formatCellForExport(v)
		}
		if err := csvWriter.Write(line); err != nil {
			logger.Error("csv export failed", "error", err)
			return
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		logger.Error("csv export failed", "error", err, "records", len(records))
	}
}

func (s *Server) exportXLSX(w http.ResponseWriter, r *http.Request, snap *core.Snapshot, records []inventory.Record, filename string) {
	f, err := buildWorkbook(snap, records)
	if err != nil {
		s.respondErrorStatus(w, r, err, http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if err := f.Write(w); err != nil {
		logging.FromContext(r.Context()).Error("xlsx export failed", "error", err)
	}
}

// buildWorkbook lays the records out on one sheet with a bold, frozen
// header row.
func buildWorkbook(snap *core.Snapshot, records []inventory.Record) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := exportRow(rec)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(exportColumns))
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", bold); err != nil {
		f.Close()
		return nil, fmt.Errorf("apply header style: %w", err)
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	if snap != nil {
		f.SetDocProps(&excelize.DocProperties{
			Title:       "Inventory export",
			Description: fmt.Sprintf("snapshot %s fetched %s", snap.ID, snap.FetchedAt.Format(time.RFC3339)),
			Creator:     "stockfeed",
		})
	}

	return f, nil
}

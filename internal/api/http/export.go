package apihttp

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"voltage-monitor/internal/analytics"
	"voltage-monitor/internal/observability/metrics"
	reading "voltage-monitor/internal/reading/domain"
)

// ExportReadingsCSVHandler serves bucketed readings as CSV.
type ExportReadingsCSVHandler struct {
	engine      Aggregator
	offsetHours int
}

// NewExportReadingsCSVHandler constructs a ExportReadingsCSVHandler.
func NewExportReadingsCSVHandler(engine Aggregator, offsetHours int) *ExportReadingsCSVHandler {
	return &ExportReadingsCSVHandler{engine: engine, offsetHours: offsetHours}
}

// ServeHTTP handles GET /api/v1/exports/readings.csv.
func (h *ExportReadingsCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	req, err := parseDataRequest(r)
	if err != nil {
		metrics.ObserveQuery("export-csv", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	buckets, err := h.engine.Aggregate(r.Context(), req)
	if err != nil {
		metrics.ObserveQuery("export-csv", metrics.ResultError, time.Since(start))
		http.Error(w, "query data error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveQuery("export-csv", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="readings.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"device_id", "bucket_start", "avg_voltage", "min_voltage", "max_voltage", "count"})
	for _, b := range buckets {
		_ = writer.Write([]string{
			b.DeviceID,
			reading.FormatNaive(b.BucketStart, h.offsetHours),
			formatFloat(b.AvgVoltage),
			formatFloat(b.MinVoltage),
			formatFloat(b.MaxVoltage),
			strconv.Itoa(b.Count),
		})
	}
	writer.Flush()
}

// ExportReadingsXLSXHandler serves bucketed readings as XLSX.
type ExportReadingsXLSXHandler struct {
	engine      Aggregator
	offsetHours int
}

// NewExportReadingsXLSXHandler constructs a ExportReadingsXLSXHandler.
func NewExportReadingsXLSXHandler(engine Aggregator, offsetHours int) *ExportReadingsXLSXHandler {
	return &ExportReadingsXLSXHandler{engine: engine, offsetHours: offsetHours}
}

// ServeHTTP handles GET /api/v1/exports/readings.xlsx.
func (h *ExportReadingsXLSXHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	req, err := parseDataRequest(r)
	if err != nil {
		metrics.ObserveQuery("export-xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	buckets, err := h.engine.Aggregate(r.Context(), req)
	if err != nil {
		metrics.ObserveQuery("export-xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, "query data error", http.StatusInternalServerError)
		return
	}

	payload, err := buildReadingsXLSX(buckets, h.offsetHours)
	if err != nil {
		metrics.ObserveQuery("export-xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveQuery("export-xlsx", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="readings.xlsx"`)
	_, _ = w.Write(payload)
}

// ExportReportPDFHandler serves a per-device summary report as PDF.
type ExportReportPDFHandler struct {
	engine      Aggregator
	offsetHours int
}

// NewExportReportPDFHandler constructs a ExportReportPDFHandler.
func NewExportReportPDFHandler(engine Aggregator, offsetHours int) *ExportReportPDFHandler {
	return &ExportReportPDFHandler{engine: engine, offsetHours: offsetHours}
}

// ServeHTTP handles GET /api/v1/exports/report.pdf.
func (h *ExportReportPDFHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	req, err := parseStatsRequest(r)
	if err != nil {
		metrics.ObserveQuery("export-pdf", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := h.engine.Stats(r.Context(), req)
	if err != nil {
		metrics.ObserveQuery("export-pdf", metrics.ResultError, time.Since(start))
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}

	hours := req.HoursBack
	if hours == 0 {
		hours = 24
	}
	payload, err := buildStatsPDF(stats, hours, h.offsetHours)
	if err != nil {
		metrics.ObserveQuery("export-pdf", metrics.ResultError, time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveQuery("export-pdf", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="voltage-report.pdf"`)
	_, _ = w.Write(payload)
}

func buildReadingsXLSX(buckets []analytics.Bucket, offsetHours int) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "readings"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Device")
	_ = f.SetCellValue(sheet, "B1", "Bucket Start")
	_ = f.SetCellValue(sheet, "C1", "Avg Voltage")
	_ = f.SetCellValue(sheet, "D1", "Min Voltage")
	_ = f.SetCellValue(sheet, "E1", "Max Voltage")
	_ = f.SetCellValue(sheet, "F1", "Count")

	for i, b := range buckets {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), b.DeviceID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), reading.FormatNaive(b.BucketStart, offsetHours))
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), b.AvgVoltage)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), b.MinVoltage)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), b.MaxVoltage)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), b.Count)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildStatsPDF(stats []analytics.DeviceStats, hours, offsetHours int) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Voltage Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Window: last %d hours", hours))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Count", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Avg (V)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Min (V)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Max (V)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Last Reading", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range stats {
		pdf.CellFormat(45, 6, s.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, strconv.Itoa(s.Count), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", s.AvgVoltage), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", s.MinVoltage), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", s.MaxVoltage), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, reading.FormatNaive(s.LastTimestamp, offsetHours), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

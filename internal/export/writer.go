package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

var exportHeaders = []string{
	"Registration ID",
	"First Name",
	"Last Name",
	"School",
	"Chapter",
	"Center",
	"Payment Status",
	"Registered At",
}

func exportRow(reg model.Registration) []string {
	return []string{
		reg.ID,
		reg.FirstName,
		reg.LastName,
		reg.SchoolName,
		reg.ChapterID,
		reg.CenterID,
		reg.PaymentStatus,
		reg.CreatedAt.Format("2006-01-02"),
	}
}

// artifactWriter accumulates registration rows and produces the final
// artifact bytes.
type artifactWriter interface {
	Append(reg model.Registration) error
	// Finish returns the artifact content, its MIME type, and its file
	// extension. The writer must not be used after Finish.
	Finish() (content []byte, contentType, ext string, err error)
}

func newArtifactWriter(format model.ExportFormat) (artifactWriter, error) {
	switch format {
	case model.FormatXLSX:
		return newXLSXWriter()
	case model.FormatCSV, "":
		return newCSVWriter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

type csvWriter struct {
	buf *bytes.Buffer
	w   *csv.Writer
}

func newCSVWriter() *csvWriter {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(exportHeaders)
	return &csvWriter{buf: buf, w: w}
}

func (c *csvWriter) Append(reg model.Registration) error {
	return c.w.Write(exportRow(reg))
}

func (c *csvWriter) Finish() ([]byte, string, string, error) {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return nil, "", "", fmt.Errorf("csv write: %w", err)
	}
	return c.buf.Bytes(), "text/csv", "csv", nil
}

type xlsxWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func newXLSXWriter() (*xlsxWriter, error) {
	f := excelize.NewFile()
	const sheet = "Registrations"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	f.SetActiveSheet(index)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "C", 18)
	_ = f.SetColWidth(sheet, "D", "D", 32)
	_ = f.SetColWidth(sheet, "E", "G", 16)

	return &xlsxWriter{f: f, sheet: sheet, row: 2}, nil
}

func (x *xlsxWriter) Append(reg model.Registration) error {
	for i, v := range exportRow(reg) {
		cell, err := excelize.CoordinatesToCellName(i+1, x.row)
		if err != nil {
			return err
		}
		if err := x.f.SetCellValue(x.sheet, cell, v); err != nil {
			return err
		}
	}
	x.row++
	return nil
}

func (x *xlsxWriter) Finish() ([]byte, string, string, error) {
	buf, err := x.f.WriteToBuffer()
	if err != nil {
		return nil, "", "", fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", nil
}

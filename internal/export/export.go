// Package export renders accounts and videos as XLSX reports.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// ContentType is the MIME type of the generated workbooks
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type column[T any] struct {
	name  string
	value func(T) any
}

var accountColumns = []column[*domain.Account]{
	{"ID", func(a *domain.Account) any { return a.ID.String() }},
	{"Email", func(a *domain.Account) any { return a.Email }},
	{"Status", func(a *domain.Account) any { return string(a.Status) }},
	{"Verified", func(a *domain.Account) any { return a.IsVerified }},
	{"Warmed Up", func(a *domain.Account) any { return a.IsWarmedUp }},
	{"Warming Progress", func(a *domain.Account) any { return a.WarmingProgress }},
	{"Country", func(a *domain.Account) any { return deref(a.Country) }},
	{"Phone", func(a *domain.Account) any { return deref(a.PhoneNumber) }},
	{"Proxy ID", func(a *domain.Account) any {
		if a.ProxyID == nil {
			return ""
		}
		return strconv.FormatInt(*a.ProxyID, 10)
	}},
	{"Uploads", func(a *domain.Account) any { return a.TotalUploads }},
	{"Views", func(a *domain.Account) any { return a.TotalViews }},
	{"Last Activity", func(a *domain.Account) any { return formatTime(a.LastActivity) }},
	{"Created", func(a *domain.Account) any { return formatTime(&a.CreatedAt) }},
}

var videoColumns = []column[*domain.Video]{
	{"ID", func(v *domain.Video) any { return v.ID.String() }},
	{"Account ID", func(v *domain.Video) any { return v.AccountID.String() }},
	{"Title", func(v *domain.Video) any { return v.Title }},
	{"Type", func(v *domain.Video) any { return string(v.Type) }},
	{"Status", func(v *domain.Video) any { return string(v.Status) }},
	{"Progress", func(v *domain.Video) any { return v.UploadProgress }},
	{"Remote URL", func(v *domain.Video) any { return deref(v.RemoteURL) }},
	{"Category", func(v *domain.Video) any { return v.Category }},
	{"Privacy", func(v *domain.Video) any { return v.Privacy }},
	{"Tags", func(v *domain.Video) any { return strings.Join(v.Tags, ", ") }},
	{"Error", func(v *domain.Video) any { return deref(v.ErrorMessage) }},
	{"Uploaded", func(v *domain.Video) any { return formatTime(v.UploadedAt) }},
	{"Created", func(v *domain.Video) any { return formatTime(&v.CreatedAt) }},
}

// Accounts writes an account report to w
func Accounts(w io.Writer, accounts []*domain.Account) error {
	return write(w, "Accounts", accountColumns, accounts)
}

// Videos writes a video report to w
func Videos(w io.Writer, videos []*domain.Video) error {
	return write(w, "Videos", videoColumns, videos)
}

func write[T any](w io.Writer, sheetName string, cols []column[T], rows []T) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, col.name); err != nil {
			return err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	lastCol, _ := excelize.CoordinatesToCellName(len(cols), 1)
	if err := f.SetCellStyle(sheetName, "A1", lastCol, headerStyle); err != nil {
		return err
	}

	for r, row := range rows {
		for i, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := f.SetCellValue(sheetName, cell, col.value(row)); err != nil {
				return fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}

	for i := range cols {
		colName, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, colName, colName, 18)
	}

	return f.Write(w)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

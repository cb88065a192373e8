// Package export renders the analytics table as an xlsx workbook and stores
// it on a drive.
package export

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Workbook renders rows into a single-sheet workbook. The first row is
// treated as the header.
func Workbook(sheet string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if len(rows) > 0 {
		bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return nil, err
		}
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Uploader stores a file on a drive, creating it when it does not exist.
type Uploader interface {
	PutFile(ctx context.Context, a auth.Authorizer, drive, path string, content []byte, contentType string) (bool, error)
}

// DriveSink overwrites a well-known workbook on a drive.
type DriveSink struct {
	uploader Uploader
	drive    string
	path     string
	sheet    string
}

func NewDriveSink(uploader Uploader, drive, path, sheet string) *DriveSink {
	if drive == "" {
		drive = "/me/drive"
	}
	return &DriveSink{uploader: uploader, drive: drive, path: path, sheet: sheet}
}

func (s *DriveSink) Name() string {
	return "drive:" + s.drive + s.path
}

// Write replaces the workbook contents with rows.
func (s *DriveSink) Write(ctx context.Context, a auth.Authorizer, rows [][]any) error {
	content, err := Workbook(s.sheet, rows)
	if err != nil {
		return err
	}

	created, err := s.uploader.PutFile(ctx, a, s.drive, s.path, content, ContentType)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.path, err)
	}
	logger.Info("analytics workbook written", "path", s.path, "rows", len(rows), "created", created)
	return nil
}

package google

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"

	"github.com/digitaldrywood/taskpulse/internal/auth"
)

// SheetsMirror overwrites one tab of a spreadsheet with the analytics table.
type SheetsMirror struct {
	service       *sheets.Service
	spreadsheetID string
	tab           string
}

func NewSheetsMirror(service *sheets.Service, spreadsheetID, tab string) *SheetsMirror {
	if tab == "" {
		tab = "Analytics"
	}
	return &SheetsMirror{
		service:       service,
		spreadsheetID: spreadsheetID,
		tab:           tab,
	}
}

func (s *SheetsMirror) Name() string {
	return fmt.Sprintf("sheets:%s/%s", s.spreadsheetID, s.tab)
}

// Write clears the tab and writes rows from A1. The Graph authorizer is not
// used; the mirror authenticates with its own credentials.
func (s *SheetsMirror) Write(ctx context.Context, _ auth.Authorizer, rows [][]any) error {
	_, err := s.service.Spreadsheets.Values.Clear(
		s.spreadsheetID,
		s.tab,
		&sheets.ClearValuesRequest{},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to clear sheet %s: %v", s.tab, err)
	}

	valueRange := &sheets.ValueRange{
		Values: rows,
	}

	_, err = s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		s.tab+"!A1",
		valueRange,
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to write data to sheet: %v", err)
	}

	return nil
}

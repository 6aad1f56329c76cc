package orders

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var tracer = otel.Tracer("concierge.internal.orders")

// SheetsStore persists order rows in a Google Sheets spreadsheet.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	readRange     string
}

// NewSheetsStore builds a store using service-account credentials.
func NewSheetsStore(ctx context.Context, credentialsFile, spreadsheetID, readRange string) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("orders: spreadsheet id is required")
	}
	if readRange == "" {
		readRange = "pedidos"
	}
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("orders: create sheets service: %w", err)
	}
	return &SheetsStore{svc: svc, spreadsheetID: spreadsheetID, readRange: readRange}, nil
}

// Append adds one row after the last populated row of the range.
func (s *SheetsStore) Append(ctx context.Context, row []string) error {
	ctx, span := tracer.Start(ctx, "sheets.append")
	defer span.End()

	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.readRange, &sheets.ValueRange{
		Values: [][]any{values},
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("orders: sheets append: %w", err)
	}
	return nil
}

// FetchAll reads every row in the configured range.
func (s *SheetsStore) FetchAll(ctx context.Context) ([][]string, error) {
	ctx, span := tracer.Start(ctx, "sheets.fetch_all")
	defer span.End()

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.readRange).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orders: sheets read: %w", err)
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

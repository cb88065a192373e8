package google

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// NewSheetsService builds a Sheets client from a service account (or
// authorized user) JSON key file. Extra options are appended after the
// credentials.
func NewSheetsService(ctx context.Context, credentialsPath string, opts ...option.ClientOption) (*sheets.Service, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read google credentials file: %v", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse google credentials: %v", err)
	}

	srv, err := sheets.NewService(ctx, append([]option.ClientOption{option.WithCredentials(creds)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Sheets client: %v", err)
	}
	return srv, nil
}

package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	ports "cpiweights/internal/tables"

	"cpiweights/internal/core"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client reads the three input tables from a Google spreadsheet and appends
// computed weights to a year-prefixed results sheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	seriesSheet   string
	anchorsSheet  string
	groupsSheet   string
	// Base name without year (e.g. "Weights"); code prefixes the year.
	weightsBase string
}

// Ensure interface conformance
var (
	_ ports.SeriesReader      = (*Client)(nil)
	_ ports.AnchorReader      = (*Client)(nil)
	_ ports.GroupReader       = (*Client)(nil)
	_ ports.WeightWriter      = (*Client)(nil)
	_ ports.WeightReader      = (*Client)(nil)
	_ ports.ObservationWriter = (*Client)(nil)
)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional sheet names: GOOGLE_SERIES_SHEET_NAME (default "Series"),
// GOOGLE_ANCHORS_SHEET_NAME (default "Anchors"),
// GOOGLE_GROUPS_SHEET_NAME (default "Groups"),
// GOOGLE_WEIGHTS_SHEET_NAME (default "Weights").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	series := envOr("GOOGLE_SERIES_SHEET_NAME", "Series")
	anchors := envOr("GOOGLE_ANCHORS_SHEET_NAME", "Anchors")
	groups := envOr("GOOGLE_GROUPS_SHEET_NAME", "Groups")
	weights := envOr("GOOGLE_WEIGHTS_SHEET_NAME", "Weights")

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		seriesSheet:   series,
		anchorsSheet:  anchors,
		groupsSheet:   groups,
		weightsBase:   weights,
	}, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// newSheetsService initializes a Sheets Service. Service Account credentials
// (GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS) take priority; an OAuth client plus a token
// minted by cmd/oauth-init works as a fallback for personal spreadsheets.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return newOAuthSheetsService(ctx)
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newOAuthSheetsService builds a Sheets Service from OAuth client credentials
// (GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE) and a stored token
// (GOOGLE_OAUTH_TOKEN_FILE, default "token.json").
func newOAuthSheetsService(ctx context.Context) (*gsheet.Service, error) {
	clientJSON := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"))
	clientFile := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"))

	var b []byte
	var err error
	switch {
	case clientJSON != "":
		b = []byte(clientJSON)
	case clientFile != "":
		b, err = os.ReadFile(clientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
	default:
		return nil, errors.New("missing Google credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_APPLICATION_CREDENTIALS, or an OAuth client)")
	}

	cfg, err := googleoauth.ConfigFromJSON(b, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}

	tokenFile := envOr("GOOGLE_OAUTH_TOKEN_FILE", "token.json")
	tokenBytes, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token file %s (run oauth-init first): %w", tokenFile, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}

	service, err := gsheet.NewService(ctx,
		goption.WithHTTPClient(cfg.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ReadSeries implements tables.SeriesReader by scanning the series sheet.
func (c *Client) ReadSeries(ctx context.Context, from, to core.Month) ([]core.Observation, error) {
	rows, err := c.readRows(ctx, c.seriesSheet, "A:C")
	if err != nil {
		return nil, err
	}
	obs := parseSeriesRows(rows)
	var out []core.Observation
	for _, o := range obs {
		if o.Month.Before(from) || to.Before(o.Month) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// ReadAnchors implements tables.AnchorReader by scanning the anchors sheet.
func (c *Client) ReadAnchors(ctx context.Context, fromYear, toYear int) ([]core.AnchorWeight, error) {
	rows, err := c.readRows(ctx, c.anchorsSheet, "A:C")
	if err != nil {
		return nil, err
	}
	anchors := parseAnchorRows(rows)
	var out []core.AnchorWeight
	for _, a := range anchors {
		if a.Year < fromYear || a.Year > toYear {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ReadGroups implements tables.GroupReader by scanning the groups sheet.
func (c *Client) ReadGroups(ctx context.Context) ([]core.CategoryGroup, error) {
	rows, err := c.readRows(ctx, c.groupsSheet, "A:B")
	if err != nil {
		return nil, err
	}
	return parseGroupRows(rows), nil
}

// WriteMonthWeights implements tables.WeightWriter by appending every weight
// row of the month to the year's weights sheet.
func (c *Client) WriteMonthWeights(ctx context.Context, mw core.MonthWeights) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	sheetName := yearPrefixedName(c.weightsBase, mw.Month.Year)
	values := make([][]any, 0, len(mw.Weights))
	for _, w := range mw.Weights {
		values = append(values, []any{w.Category, w.Month.String(), w.Value, w.AnchorYear})
	}

	rng := fmt.Sprintf("%s!A:D", sheetName)
	vr := &gsheet.ValueRange{Values: values}
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append weights to sheet %s: %w", sheetName, err)
	}

	slog.InfoContext(ctx, "Wrote month weights to Google Sheets",
		"month", mw.Month.String(),
		"sheet", sheetName,
		"rows", len(values),
		"coverage", mw.Coverage.Total)

	return nil
}

// ReadMonthWeights implements tables.WeightReader by scanning the year's
// weights sheet for the month's rows.
func (c *Client) ReadMonthWeights(ctx context.Context, m core.Month) (core.MonthWeights, error) {
	sheetName := yearPrefixedName(c.weightsBase, m.Year)
	rows, err := c.readRows(ctx, sheetName, "A:D")
	if err != nil {
		return core.MonthWeights{}, err
	}

	mw := core.MonthWeights{Month: m}
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		rowMonth, err := core.ParseMonth(row[1])
		if err != nil || rowMonth != m {
			continue
		}
		value, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			continue
		}
		anchorYear, err := strconv.Atoi(row[3])
		if err != nil {
			continue
		}
		mw.Weights = append(mw.Weights, core.Weight{
			Category:   row[0],
			Month:      m,
			Value:      value,
			AnchorYear: anchorYear,
		})
	}
	if len(mw.Weights) == 0 {
		return core.MonthWeights{}, fmt.Errorf("%w: %s in sheet %s", ports.ErrNoWeights, m, sheetName)
	}
	return mw, nil
}

// AppendObservation implements tables.ObservationWriter.
func (c *Client) AppendObservation(ctx context.Context, o core.Observation) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	return c.appendRow(ctx, c.seriesSheet, "A:C", []any{o.Category, o.Month.String(), o.Value})
}

// AppendAnchor implements tables.ObservationWriter.
func (c *Client) AppendAnchor(ctx context.Context, a core.AnchorWeight) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	return c.appendRow(ctx, c.anchorsSheet, "A:C", []any{a.Category, a.Year, a.Value})
}

func (c *Client) appendRow(ctx context.Context, sheetName, cols string, row []any) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!%s", sheetName, cols)
	vr := &gsheet.ValueRange{Values: [][]any{row}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheetName, err)
	}
	if resp.Updates != nil {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

func (c *Client) readRows(ctx context.Context, sheetName, cols string) ([][]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!%s", sheetName, cols)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		out = append(out, toStrings(row))
	}
	return out, nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

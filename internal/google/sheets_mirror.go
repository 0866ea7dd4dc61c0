package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"salesync/internal/channel"
	"salesync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const salesSheetPrefix = "sales_"

var salesHeader = []interface{}{"ID Global", "Tenant", "Created At", "Written At", "Total Bs", "Total USD", "Payment", "Record"}

// SheetsMirror is a mirror channel that appends one row per sale to a
// per-tenant tab. Column A holds id_global and is used to skip rows that
// were already written by an earlier attempt.
type SheetsMirror struct {
	service       *sheets.Service
	spreadsheetID string
	now           func() time.Time

	cacheMu  sync.RWMutex
	rowCache map[string]int // "<sheet>\x00<id_global>" -> 1-based row
	sheetsMu sync.Mutex
	known    map[string]bool
}

func NewSheetsMirror(ctx context.Context, credentialsFile, spreadsheetID string) (*SheetsMirror, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: sheets spreadsheet_id", channel.ErrNotConfigured)
	}

	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	// Создаем JWT конфигурацию
	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsMirror(srv, spreadsheetID), nil
}

func newSheetsMirror(srv *sheets.Service, spreadsheetID string) *SheetsMirror {
	return &SheetsMirror{
		service:       srv,
		spreadsheetID: spreadsheetID,
		now:           time.Now,
		rowCache:      make(map[string]int),
		known:         make(map[string]bool),
	}
}

func (s *SheetsMirror) Name() string { return channel.NameMirror }

// Start refreshes the row cache of every known tab until ctx is done.
func (s *SheetsMirror) Start(ctx context.Context) {
	ticker := time.NewTicker(models.SheetsCacheTTL * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sheetsMu.Lock()
			titles := make([]string, 0, len(s.known))
			for title := range s.known {
				titles = append(titles, title)
			}
			s.sheetsMu.Unlock()

			for _, title := range titles {
				refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				_ = s.WarmUpCache(refreshCtx, title)
				cancel()
			}
		}
	}
}

// TestConnection проверяет подключение к таблице
func (s *SheetsMirror) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// SheetTitle returns the tab a tenant's sales are written to.
func SheetTitle(tenant string) string {
	if tenant == "" {
		tenant = "default"
	}
	return salesSheetPrefix + tenant
}

func (s *SheetsMirror) Push(ctx context.Context, d channel.Delivery) (*channel.Ack, error) {
	if d.Record == nil || d.Event == nil || d.Record.IDGlobal == "" {
		return nil, &channel.PushError{Channel: channel.NameMirror, Err: errors.New("incomplete delivery")}
	}

	title := SheetTitle(d.Record.TenantID)
	if err := s.ensureSheet(ctx, title); err != nil {
		return nil, pushError(err)
	}

	row, err := s.FindSaleRow(ctx, title, d.Record.IDGlobal)
	if err == nil {
		return &channel.Ack{
			Channel:   channel.NameMirror,
			RemoteID:  fmt.Sprintf("%s!A%d", title, row),
			At:        s.now(),
			Duplicate: true,
		}, nil
	}
	if !errors.Is(err, errRowNotFound) {
		return nil, pushError(err)
	}

	record, err := json.Marshal(d.Record)
	if err != nil {
		return nil, pushError(err)
	}
	writtenAt := s.now().UTC()
	values := []interface{}{
		d.Record.IDGlobal,
		d.Record.TenantID,
		d.Record.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		writtenAt.Format("2006-01-02 15:04:05"),
		d.Event.Payload.TotalBs,
		d.Event.Payload.TotalUSD,
		d.Record.PaymentMethod,
		string(record),
	}

	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, quoteRange(title, "A:A"), &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, pushError(err)
	}

	remoteID := title
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		remoteID = resp.Updates.UpdatedRange
		if n := rowFromRange(resp.Updates.UpdatedRange); n > 0 {
			s.setCachedRow(title, d.Record.IDGlobal, n)
		}
	}

	return &channel.Ack{Channel: channel.NameMirror, RemoteID: remoteID, At: writtenAt}, nil
}

// WarmUpCache populates the row index cache by reading the entire ID column.
func (s *SheetsMirror) WarmUpCache(ctx context.Context, title string) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, quoteRange(title, "A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for i, row := range resp.Values {
		if id := cellString(row); id != "" && i > 0 {
			s.rowCache[cacheKey(title, id)] = i + 1
		}
	}
	return nil
}

var errRowNotFound = errors.New("sale row not found")

// FindSaleRow locates row index (1-based) for id_global in column A with cache.
func (s *SheetsMirror) FindSaleRow(ctx context.Context, title, idGlobal string) (int, error) {
	if row, ok := s.getCachedRow(title, idGlobal); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, quoteRange(title, "A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if cellString(row) == idGlobal {
			rowIdx := i + 1 // Values are zero-based; sheet rows are 1-based
			s.setCachedRow(title, idGlobal, rowIdx)
			return rowIdx, nil
		}
	}
	return 0, errRowNotFound
}

// ClearCache drops cached rows and known tabs.
func (s *SheetsMirror) ClearCache() {
	s.cacheMu.Lock()
	s.rowCache = make(map[string]int)
	s.cacheMu.Unlock()

	s.sheetsMu.Lock()
	s.known = make(map[string]bool)
	s.sheetsMu.Unlock()
}

func (s *SheetsMirror) ensureSheet(ctx context.Context, title string) error {
	s.sheetsMu.Lock()
	defer s.sheetsMu.Unlock()

	if s.known[title] {
		return nil
	}

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return err
	}
	for _, sh := range spreadsheet.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			s.known[title] = true
			return nil
		}
	}

	_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, quoteRange(title, "A1:H1"), &sheets.ValueRange{
		Values: [][]interface{}{salesHeader},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header for %s: %w", title, err)
	}

	s.known[title] = true
	return nil
}

func (s *SheetsMirror) getCachedRow(title, id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[cacheKey(title, id)]
	return row, ok
}

func (s *SheetsMirror) setCachedRow(title, id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[cacheKey(title, id)] = row
}

func cacheKey(title, id string) string {
	return title + "\x00" + id
}

func quoteRange(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}

func cellString(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	switch v := row[0].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

var rangeRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// rowFromRange extracts the first row number from an A1 range such as 'sales_x'!A5:H5.
func rowFromRange(a1 string) int {
	m := rangeRowRe.FindStringSubmatch(a1)
	if len(m) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func pushError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &channel.PushError{Channel: channel.NameMirror, StatusCode: gerr.Code, Message: gerr.Message, Err: err}
	}
	return &channel.PushError{Channel: channel.NameMirror, Err: err}
}

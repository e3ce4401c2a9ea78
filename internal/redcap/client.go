// Package redcap is the record source adapter: it exports reports from the
// records platform into domain tables and writes imported fields back.
package redcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/logging"
	"logistics/pkg/domain"
)

const (
	// DefaultTimeout bounds a single API request.
	DefaultTimeout = 60 * time.Second
	// MaxResponseSize caps report bodies (64MB).
	MaxResponseSize = 64 * 1024 * 1024
	// DefaultImportBatch is the number of records sent per import request.
	DefaultImportBatch = 50

	fieldEvent      = "redcap_event_name"
	fieldInstrument = "redcap_repeat_instrument"
	fieldInstance   = "redcap_repeat_instance"
)

// Config holds HTTP client settings.
type Config struct {
	Timeout         time.Duration
	MaxResponseSize int64
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, MaxResponseSize: MaxResponseSize}
}

// Client talks to the records platform API.
type Client struct {
	http    *http.Client
	maxSize int64
	logger  *zap.Logger
}

// NewClient constructs a client. A nil logger disables logging.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = MaxResponseSize
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		maxSize: cfg.MaxResponseSize,
		logger:  logging.OrNop(logger),
	}
}

// FetchReport exports a report and returns its rows renamed through the
// project's column map and sorted by (entity, event, instrument, instance).
// An empty reportID selects the project's main order report.
func (c *Client) FetchReport(ctx context.Context, p config.Project, reportID string) (domain.Table, error) {
	if reportID == "" {
		reportID = p.ReportID
	}
	form := url.Values{
		"token":               {p.Token},
		"content":             {"report"},
		"format":              {"json"},
		"report_id":           {reportID},
		"rawOrLabel":          {"raw"},
		"rawOrLabelHeaders":   {"raw"},
		"exportCheckboxLabel": {"false"},
		"returnFormat":        {"json"},
	}
	body, err := c.post(ctx, p.APIURL, form)
	if err != nil {
		return domain.Table{}, fmt.Errorf("export report %s for %s: %w", reportID, p.Name, err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return domain.Table{}, fmt.Errorf("decode report %s for %s: %w", reportID, p.Name, err)
	}
	table := buildTable(p, rows)
	c.logger.Debug("fetched report",
		zap.String("project", p.Name),
		zap.String("report_id", reportID),
		zap.Int("rows", table.Len()))
	return table, nil
}

// ImportRecords writes flat records back to the project in batches,
// overwriting existing values. It returns the number of records the
// platform reports as imported.
func (c *Client) ImportRecords(ctx context.Context, p config.Project, records []map[string]string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultImportBatch
	}
	imported := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		data, err := json.Marshal(records[start:end])
		if err != nil {
			return imported, fmt.Errorf("encode import batch: %w", err)
		}
		form := url.Values{
			"token":             {p.Token},
			"content":           {"record"},
			"format":            {"json"},
			"type":              {"flat"},
			"overwriteBehavior": {"overwrite"},
			"data":              {string(data)},
			"returnContent":     {"count"},
			"returnFormat":      {"json"},
		}
		body, err := c.post(ctx, p.APIURL, form)
		if err != nil {
			return imported, fmt.Errorf("import records into %s: %w", p.Name, err)
		}
		var resp struct {
			Count json.Number `json:"count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return imported, fmt.Errorf("decode import response: %w", err)
		}
		n, _ := resp.Count.Int64()
		imported += int(n)
		c.logger.Info("imported record batch",
			zap.String("project", p.Name),
			zap.Int("batch_start", start),
			zap.Int64("count", n))
	}
	return imported, nil
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > c.maxSize {
		return nil, fmt.Errorf("response body too large (max %d bytes)", c.maxSize)
	}
	c.logger.Debug("records api call",
		zap.String("content", form.Get("content")),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("records api status %d: %s", resp.StatusCode, snippet(body))
	}
	return body, nil
}

func decodeRows(body []byte) ([]map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	rows := make([]map[string]string, len(raw))
	for i, r := range raw {
		row := make(map[string]string, len(r))
		for k, v := range r {
			row[k] = stringify(v)
		}
		rows[i] = row
	}
	return rows, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// buildTable renames fields and keys each row. When several raw fields map to
// the same column the first non-empty value, by raw field name, wins.
func buildTable(p config.Project, rows []map[string]string) domain.Table {
	columnSet := make(map[string]struct{})
	records := make([]domain.Record, 0, len(rows))
	for i, row := range rows {
		rawKeys := make([]string, 0, len(row))
		for k := range row {
			rawKeys = append(rawKeys, k)
		}
		sort.Strings(rawKeys)

		fields := make(map[string]string, len(row))
		for _, k := range rawKeys {
			target := k
			if renamed, ok := p.Columns[k]; ok {
				target = renamed
			}
			columnSet[target] = struct{}{}
			v := strings.TrimSpace(row[k])
			if existing := fields[target]; existing != "" {
				continue
			}
			fields[target] = v
		}
		instance, _ := strconv.Atoi(strings.TrimSpace(row[fieldInstance]))
		key := domain.RecordKey{
			EntityID:   strings.TrimSpace(row[p.IDField]),
			Event:      strings.TrimSpace(row[fieldEvent]),
			Instrument: strings.TrimSpace(row[fieldInstrument]),
			Instance:   instance,
		}
		records = append(records, domain.NewRecord(key, i, fields))
	}
	columns := make([]string, 0, len(columnSet))
	for c := range columnSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return domain.NewTable(columns, records).Sorted()
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

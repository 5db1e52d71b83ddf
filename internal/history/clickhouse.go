package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClickHouseHTTPSink sends events to ClickHouse through its HTTP interface
// as one JSONEachRow line per event.
type ClickHouseHTTPSink struct {
	client *http.Client
	base   string
	table  string
}

func NewClickHouseHTTPSink(baseURL, table string) *ClickHouseHTTPSink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &ClickHouseHTTPSink{client: c, base: strings.TrimRight(baseURL, "/"), table: table}
}

func (s *ClickHouseHTTPSink) Send(ctx context.Context, e Event) error {
	u, err := url.Parse(s.base)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", s.table))
	u.RawQuery = q.Encode()
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(append(line, '\n')))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse sink status %d", resp.StatusCode)
	}
	return nil
}

// Relational store over the backend's REST surface (/rest/v1/{table}).

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/desertthunder/rehearse/internal/shared"
)

const (
	restPath         = "/rest/v1/"
	singleObjectMime = "application/vnd.pgrst.object+json"
)

// RESTStore implements [TableStore] against a PostgREST-style API.
type RESTStore struct {
	api *APIService
}

// NewRESTStore creates a store that issues requests through api.
func NewRESTStore(api *APIService) *RESTStore {
	return &RESTStore{api: api}
}

// formatValue renders a filter value the way the REST filter grammar expects.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// restValues encodes q as REST query parameters, e.g. select=*&active=eq.true&order=price.asc.
func restValues(q Query, includeSelect bool) url.Values {
	values := url.Values{}
	if includeSelect {
		if len(q.Columns) == 0 {
			values.Set("select", "*")
		} else {
			values.Set("select", strings.Join(q.Columns, ","))
		}
	}

	for _, f := range q.Filters {
		if f.Value == nil {
			values.Add(f.Column, "is.null")
			continue
		}
		values.Add(f.Column, "eq."+formatValue(f.Value))
	}

	if len(q.Orders) > 0 {
		parts := make([]string, 0, len(q.Orders))
		for _, o := range q.Orders {
			dir := "desc"
			if o.Ascending {
				dir = "asc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		values.Set("order", strings.Join(parts, ","))
	}

	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values
}

func tablePath(table string) string {
	return restPath + url.PathEscape(table)
}

// Select returns all rows matching q into dest.
func (s *RESTStore) Select(ctx context.Context, q Query, dest any) error {
	resp, err := s.api.Do(ctx, APIRequest{
		Method: http.MethodGet,
		Path:   tablePath(q.Table),
		Query:  restValues(q, true),
	})
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("select %s: %w", q.Table, err)
	}
	return decodeRows(resp.Body, dest)
}

// SelectSingle asks the API for a single object; anything other than exactly one row is [shared.ErrNotFound].
func (s *RESTStore) SelectSingle(ctx context.Context, q Query, dest any) error {
	resp, err := s.api.Do(ctx, APIRequest{
		Method: http.MethodGet,
		Path:   tablePath(q.Table),
		Query:  restValues(q, true),
		Header: http.Header{"Accept": {singleObjectMime}},
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotAcceptable {
		return fmt.Errorf("%w: %s: expected exactly one row", shared.ErrNotFound, q.Table)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("select %s: %w", q.Table, err)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, dest); err != nil {
		return fmt.Errorf("%w: decode %s row: %v", shared.ErrAPIRequest, q.Table, err)
	}
	return nil
}

func preferReturn(dest any) string {
	if dest == nil {
		return "return=minimal"
	}
	return "return=representation"
}

func (s *RESTStore) write(ctx context.Context, method string, path string, query url.Values, prefer []string, body any, dest any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}

	resp, err := s.api.Do(ctx, APIRequest{
		Method: method,
		Path:   path,
		Query:  query,
		Header: http.Header{"Prefer": {strings.Join(prefer, ",")}},
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if dest != nil {
		if err := decodeRows(resp.Body, dest); err != nil {
			return nil, err
		}
	}
	return resp.Body, nil
}

// Insert writes row and, when dest is non-nil, reads back the stored representation.
func (s *RESTStore) Insert(ctx context.Context, table string, row any, dest any) error {
	if _, err := s.write(ctx, http.MethodPost, tablePath(table), nil, []string{preferReturn(dest)}, row, dest); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// Update patches all rows matching q's filters. The count comes from the returned representation.
func (s *RESTStore) Update(ctx context.Context, q Query, patch any) (int, error) {
	var rows []json.RawMessage
	if _, err := s.write(ctx, http.MethodPatch, tablePath(q.Table), restValues(q, false), []string{"return=representation"}, patch, &rows); err != nil {
		return 0, fmt.Errorf("update %s: %w", q.Table, err)
	}
	return len(rows), nil
}


// decodeRows decodes a JSON array of rows into dest. A slice dest receives every row; any other pointer receives
// the first row and an empty array is [shared.ErrNotFound].
func decodeRows(body []byte, dest any) error {
	if dest == nil {
		return nil
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: destination must be a non-nil pointer", shared.ErrInvalidArgument)
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		trimmed = "[]"
	}

	if rv.Elem().Kind() == reflect.Slice {
		if !strings.HasPrefix(trimmed, "[") {
			trimmed = "[" + trimmed + "]"
		}
		if err := json.Unmarshal([]byte(trimmed), dest); err != nil {
			return fmt.Errorf("%w: decode rows: %v", shared.ErrAPIRequest, err)
		}
		return nil
	}

	if !strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), dest); err != nil {
			return fmt.Errorf("%w: decode row: %v", shared.ErrAPIRequest, err)
		}
		return nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
		return fmt.Errorf("%w: decode rows: %v", shared.ErrAPIRequest, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: no rows returned", shared.ErrNotFound)
	}
	if err := json.Unmarshal(rows[0], dest); err != nil {
		return fmt.Errorf("%w: decode row: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultWatchInterval is the polling interval of the HTTP transport's
// watch streams.
const DefaultWatchInterval = 2 * time.Second

// HTTPTransport talks to a Firestore-compatible REST surface:
// GET/PATCH/DELETE on
// {base}/v1/projects/{project}/databases/{database}/documents/{path}.
// Watch is interval polling with version comparison; a true server push
// stream would slot in behind the same Stream interface.
type HTTPTransport struct {
	// BaseURL is the API root, e.g. "https://firestore.googleapis.com" or
	// an emulator host like "http://localhost:8080".
	BaseURL  string
	Project  string
	Database string

	// Client defaults to http.DefaultClient.
	Client *http.Client

	// WatchInterval defaults to DefaultWatchInterval.
	WatchInterval time.Duration
}

// NewHTTPTransport creates a transport for the given project. database
// defaults to "(default)".
func NewHTTPTransport(baseURL, project, database string, client *http.Client) *HTTPTransport {
	if database == "" {
		database = "(default)"
	}
	return &HTTPTransport{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Project:  project,
		Database: database,
		Client:   client,
	}
}

func (t *HTTPTransport) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *HTTPTransport) documentURL(path string) string {
	return fmt.Sprintf("%s/v1/projects/%s/databases/%s/documents/%s",
		t.BaseURL, url.PathEscape(t.Project), url.PathEscape(t.Database), path)
}

func (t *HTTPTransport) do(ctx context.Context, method, rawURL, bearer string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.httpClient().Do(req)
}

// checkStatus maps HTTP status codes onto the transport error taxonomy.
func checkStatus(resp *http.Response, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}

func (t *HTTPTransport) Get(ctx context.Context, path, bearer string) (*Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	resp, err := t.do(ctx, http.MethodGet, t.documentURL(path), bearer, nil)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, path); err != nil {
		return nil, err
	}
	return decodeDocument(resp.Body, path)
}

func (t *HTTPTransport) Set(ctx context.Context, path string, fields map[string]any, bearer string) (*Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{"fields": encodeFields(fields)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields for %s: %w", path, err)
	}

	resp, err := t.do(ctx, http.MethodPatch, t.documentURL(path), bearer, body)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, path); err != nil {
		return nil, err
	}
	return decodeDocument(resp.Body, path)
}

func (t *HTTPTransport) Delete(ctx context.Context, path, bearer string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	resp, err := t.do(ctx, http.MethodDelete, t.documentURL(path), bearer, nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	defer resp.Body.Close()

	// Deleting an absent document is a no-op, matching the server.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(resp, path)
}

func (t *HTTPTransport) Watch(ctx context.Context, path, bearer string) (Stream, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	interval := t.WatchInterval
	if interval == 0 {
		interval = DefaultWatchInterval
	}

	// Probe once so authorization failures surface at watch time instead
	// of on the first poll.
	initial, err := t.Get(ctx, path, bearer)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	s := &pollStream{
		transport: t,
		path:      path,
		bearer:    bearer,
		interval:  interval,
		ctx:       ctx,
		last:      initial,
		first:     initial != nil,
	}
	return s, nil
}

// pollStream emulates a change stream by polling the document and emitting
// only version transitions.
type pollStream struct {
	transport *HTTPTransport
	path      string
	bearer    string
	interval  time.Duration
	ctx       context.Context

	last  *Document
	first bool
}

func (s *pollStream) Recv() (*Document, error) {
	// Deliver the state observed at watch time before polling.
	if s.first {
		s.first = false
		return cloneDocument(s.last), nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-ticker.C:
		}

		doc, err := s.transport.Get(s.ctx, s.path, s.bearer)
		switch {
		case isNotFound(err):
			if s.last != nil {
				s.last = nil
				return nil, nil
			}
		case err != nil:
			return nil, err
		case s.last == nil || doc.Version != s.last.Version:
			s.last = doc
			return cloneDocument(doc), nil
		}
	}
}

func (s *pollStream) Close() error {
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// restDocument is the wire shape of a Firestore REST document.
type restDocument struct {
	Name       string               `json:"name,omitempty"`
	Fields     map[string]restValue `json:"fields,omitempty"`
	UpdateTime string               `json:"updateTime,omitempty"`
}

// restValue is the typed value union of the Firestore REST API.
type restValue struct {
	NullValue    *string         `json:"nullValue,omitempty"`
	BooleanValue *bool           `json:"booleanValue,omitempty"`
	IntegerValue *string         `json:"integerValue,omitempty"`
	DoubleValue  *float64        `json:"doubleValue,omitempty"`
	StringValue  *string         `json:"stringValue,omitempty"`
	MapValue     *restMapValue   `json:"mapValue,omitempty"`
	ArrayValue   *restArrayValue `json:"arrayValue,omitempty"`
}

type restMapValue struct {
	Fields map[string]restValue `json:"fields,omitempty"`
}

type restArrayValue struct {
	Values []restValue `json:"values,omitempty"`
}

func decodeDocument(r io.Reader, path string) (*Document, error) {
	var wire restDocument
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
	}

	doc := &Document{
		Path:   path,
		Fields: make(map[string]any, len(wire.Fields)),
	}
	for name, v := range wire.Fields {
		doc.Fields[name] = decodeValue(v)
	}
	if wire.UpdateTime != "" {
		if ts, err := time.Parse(time.RFC3339Nano, wire.UpdateTime); err == nil {
			doc.Version = ts.UnixMicro()
		}
	}
	return doc, nil
}

func decodeValue(v restValue) any {
	switch {
	case v.BooleanValue != nil:
		return *v.BooleanValue
	case v.IntegerValue != nil:
		i, err := strconv.ParseInt(*v.IntegerValue, 10, 64)
		if err != nil {
			return *v.IntegerValue
		}
		return i
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.StringValue != nil:
		return *v.StringValue
	case v.MapValue != nil:
		fields := make(map[string]any, len(v.MapValue.Fields))
		for name, mv := range v.MapValue.Fields {
			fields[name] = decodeValue(mv)
		}
		return fields
	case v.ArrayValue != nil:
		values := make([]any, 0, len(v.ArrayValue.Values))
		for _, av := range v.ArrayValue.Values {
			values = append(values, decodeValue(av))
		}
		return values
	default:
		return nil
	}
}

func encodeFields(fields map[string]any) map[string]restValue {
	encoded := make(map[string]restValue, len(fields))
	for name, v := range fields {
		encoded[name] = encodeValue(v)
	}
	return encoded
}

func encodeValue(v any) restValue {
	switch val := v.(type) {
	case nil:
		null := "NULL_VALUE"
		return restValue{NullValue: &null}
	case bool:
		return restValue{BooleanValue: &val}
	case int:
		s := strconv.FormatInt(int64(val), 10)
		return restValue{IntegerValue: &s}
	case int64:
		s := strconv.FormatInt(val, 10)
		return restValue{IntegerValue: &s}
	case float64:
		return restValue{DoubleValue: &val}
	case string:
		return restValue{StringValue: &val}
	case map[string]any:
		return restValue{MapValue: &restMapValue{Fields: encodeFields(val)}}
	case []any:
		values := make([]restValue, 0, len(val))
		for _, av := range val {
			values = append(values, encodeValue(av))
		}
		return restValue{ArrayValue: &restArrayValue{Values: values}}
	default:
		s := fmt.Sprintf("%v", val)
		return restValue{StringValue: &s}
	}
}

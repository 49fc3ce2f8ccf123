package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"

	"github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Client talks to a remote JSON:API record store
type Client interface {
	FindRecord(ctx context.Context, ref records.RecordRef) (*records.Record, error)
	FindRecords(ctx context.Context, recordType string, parameters ...RequestDecoratorFunc) ([]*records.Record, error)
	FindRelatedRecords(ctx context.Context, ref records.RecordRef, relationship string, parameters ...RequestDecoratorFunc) ([]*records.Record, error)

	CreateRecord(ctx context.Context, record *records.Record) (*records.Record, error)
	UpdateRecord(ctx context.Context, record *records.Record) (*records.Record, error)
	DeleteRecord(ctx context.Context, ref records.RecordRef) error

	AddToRelationship(ctx context.Context, ref records.RecordRef, relationship string, related []records.RecordRef) error
	RemoveFromRelationship(ctx context.Context, ref records.RecordRef, relationship string, related []records.RecordRef) error
	ReplaceRelationship(ctx context.Context, ref records.RecordRef, relationship string, data *records.RelationshipData) error

	UploadFile(ctx context.Context, recordType, field, fileName string, content []byte) (records.RecordRef, error)
	Schema(ctx context.Context, recordType string) (json.RawMessage, error)
	Ping(ctx context.Context) error
}

type RequestDecoratorFunc func([]string) []string

const ContentType string = "application/vnd.api+json"

func Debug(enabled string) func(*jsonapiClient) {
	return func(c *jsonapiClient) {
		c.debug = (enabled == "true")
	}
}

// SessionTokenEndpoint sets the path used to fetch CSRF tokens for unsafe
// methods. An empty path disables CSRF tokens.
func SessionTokenEndpoint(path string) func(*jsonapiClient) {
	return func(c *jsonapiClient) {
		c.sessionTokenPath = path
	}
}

func WithHTTPClient(httpClient *http.Client) func(*jsonapiClient) {
	return func(c *jsonapiClient) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL string, options ...func(*jsonapiClient)) Client {
	c := &jsonapiClient{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		sessionTokenPath: "/session/token",
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, option := range options {
		option(c)
	}

	return c
}

const (
	TraceAttributeRecordID   string = "record-id"
	TraceAttributeRecordType string = "record-type"
)

var tracer = otel.Tracer("field-sync/jsonapi-client")

type jsonapiClient struct {
	baseURL          string
	sessionTokenPath string
	debug            bool
	httpClient       *http.Client

	mu        sync.Mutex
	csrfToken string
}

type document struct {
	Data  json.RawMessage `json:"data"`
	Links struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next,omitempty"`
	} `json:"links"`
}

func (c *jsonapiClient) collectionURL(recordType string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.baseURL, records.EntityKind(recordType), records.Bundle(recordType))
}

func (c *jsonapiClient) resourceURL(ref records.RecordRef) string {
	return c.collectionURL(ref.Type) + "/" + ref.ID
}

func (c *jsonapiClient) FindRecord(ctx context.Context, ref records.RecordRef) (*records.Record, error) {
	var err error

	ctx, span := tracer.Start(ctx, "find-record",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, ref.Type)),
		trace.WithAttributes(attribute.String(TraceAttributeRecordID, ref.ID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp, respBody, err := c.callRemote(ctx, http.MethodGet, c.resourceURL(ref), nil, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(resp.StatusCode, respBody)
		return nil, err
	}

	doc := document{}
	if err = json.Unmarshal(respBody, &doc); err != nil {
		err = fmt.Errorf("failed to unmarshal response: %s (%w)", err.Error(), errors.ErrBadResponse)
		return nil, err
	}

	r := &records.Record{}
	if err = json.Unmarshal(doc.Data, r); err != nil {
		err = fmt.Errorf("failed to unmarshal record: %s (%w)", err.Error(), errors.ErrBadResponse)
		return nil, err
	}

	return r, nil
}

func (c *jsonapiClient) FindRecords(ctx context.Context, recordType string, parameters ...RequestDecoratorFunc) ([]*records.Record, error) {
	var err error

	ctx, span := tracer.Start(ctx, "find-records",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, recordType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	result, err := c.fetchCollection(ctx, c.collectionURL(recordType), parameters...)
	return result, err
}

func (c *jsonapiClient) FindRelatedRecords(ctx context.Context, ref records.RecordRef, relationship string, parameters ...RequestDecoratorFunc) ([]*records.Record, error) {
	var err error

	ctx, span := tracer.Start(ctx, "find-related-records",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, ref.Type)),
		trace.WithAttributes(attribute.String(TraceAttributeRecordID, ref.ID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	result, err := c.fetchCollection(ctx, c.resourceURL(ref)+"/"+relationship, parameters...)
	return result, err
}

func (c *jsonapiClient) CreateRecord(ctx context.Context, record *records.Record) (*records.Record, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-record",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, record.Type)),
		trace.WithAttributes(attribute.String(TraceAttributeRecordID, record.ID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := encodeRecord(record)
	if err != nil {
		return nil, err
	}

	resp, respBody, err := c.callRemote(ctx, http.MethodPost, c.collectionURL(record.Type), bytes.NewReader(body), nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(resp.StatusCode, respBody)
		return nil, err
	}

	created, err := decodeRecord(respBody, record)
	return created, err
}

func (c *jsonapiClient) UpdateRecord(ctx context.Context, record *records.Record) (*records.Record, error) {
	var err error

	ctx, span := tracer.Start(ctx, "update-record",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, record.Type)),
		trace.WithAttributes(attribute.String(TraceAttributeRecordID, record.ID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := encodeRecord(record)
	if err != nil {
		return nil, err
	}

	resp, respBody, err := c.callRemote(ctx, http.MethodPatch, c.resourceURL(record.Ref()), bytes.NewReader(body), nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		err = errors.NewErrorFromResponse(resp.StatusCode, respBody)
		return nil, err
	}

	updated, err := decodeRecord(respBody, record)
	return updated, err
}

func (c *jsonapiClient) DeleteRecord(ctx context.Context, ref records.RecordRef) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-record",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, ref.Type)),
		trace.WithAttributes(attribute.String(TraceAttributeRecordID, ref.ID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp, respBody, err := c.callRemote(ctx, http.MethodDelete, c.resourceURL(ref), nil, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(resp.StatusCode, respBody)
		return err
	}

	return nil
}

func (c *jsonapiClient) AddToRelationship(ctx context.Context, ref records.RecordRef, relationship string, related []records.RecordRef) error {
	return c.changeRelationship(ctx, http.MethodPost, ref, relationship, records.NewToMany(related...))
}

func (c *jsonapiClient) RemoveFromRelationship(ctx context.Context, ref records.RecordRef, relationship string, related []records.RecordRef) error {
	return c.changeRelationship(ctx, http.MethodDelete, ref, relationship, records.NewToMany(related...))
}

func (c *jsonapiClient) ReplaceRelationship(ctx context.Context, ref records.RecordRef, relationship string, data *records.RelationshipData) error {
	return c.changeRelationship(ctx, http.MethodPatch, ref, relationship, data)
}

func (c *jsonapiClient) changeRelationship(ctx context.Context, method string, ref records.RecordRef, relationship string, data *records.RelationshipData) error {
	var err error

	ctx, span := tracer.Start(ctx, "change-relationship",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, ref.Type)),
		trace.WithAttributes(attribute.String(TraceAttributeRecordID, ref.ID)),
		trace.WithAttributes(attribute.String("relationship", relationship)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(stripDirectives(data))
	if err != nil {
		return err
	}

	endpoint := c.resourceURL(ref) + "/relationships/" + relationship

	resp, respBody, err := c.callRemote(ctx, method, endpoint, bytes.NewReader(body), nil)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err = errors.NewErrorFromResponse(resp.StatusCode, respBody)
		return err
	}

	return nil
}

func (c *jsonapiClient) UploadFile(ctx context.Context, recordType, field, fileName string, content []byte) (records.RecordRef, error) {
	var err error

	ctx, span := tracer.Start(ctx, "upload-file",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, recordType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	headers := map[string][]string{
		"Content-Type":        {"application/octet-stream"},
		"Content-Disposition": {fmt.Sprintf("file; filename=\"%s\"", fileName)},
	}

	resp, respBody, err := c.callRemote(ctx, http.MethodPost, c.collectionURL(recordType)+"/"+field, bytes.NewReader(content), headers)
	if err != nil {
		return records.RecordRef{}, err
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(resp.StatusCode, respBody)
		return records.RecordRef{}, err
	}

	doc := struct {
		Data records.RecordRef `json:"data"`
	}{}

	if err = json.Unmarshal(respBody, &doc); err != nil {
		err = fmt.Errorf("failed to unmarshal upload response: %s (%w)", err.Error(), errors.ErrBadResponse)
		return records.RecordRef{}, err
	}

	return doc.Data.Identity(), nil
}

func (c *jsonapiClient) Schema(ctx context.Context, recordType string) (json.RawMessage, error) {
	var err error

	ctx, span := tracer.Start(ctx, "retrieve-schema",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, recordType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp, respBody, err := c.callRemote(ctx, http.MethodGet, c.collectionURL(recordType)+"/resource/schema", nil, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(resp.StatusCode, respBody)
		return nil, err
	}

	return json.RawMessage(respBody), nil
}

func (c *jsonapiClient) Ping(ctx context.Context) error {
	resp, respBody, err := c.callRemote(ctx, http.MethodGet, c.baseURL+"/api", nil, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.NewErrorFromResponse(resp.StatusCode, respBody)
	}

	return nil
}

func isUnsafe(method string) bool {
	return method != http.MethodGet && method != http.MethodHead && method != http.MethodOptions
}

func (c *jsonapiClient) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.csrfToken != "" {
		return c.csrfToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.sessionTokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.NewServiceUnavailableError(fmt.Sprintf("failed to fetch session token: %s", err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read session token: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewErrorFromResponse(resp.StatusCode, body)
	}

	c.csrfToken = strings.TrimSpace(string(body))

	return c.csrfToken, nil
}

// callRemote performs a request against the remote store. A request that never
// reaches the server is reported as a synthetic 503 response.
func (c *jsonapiClient) callRemote(ctx context.Context, method, endpoint string, body io.Reader, headers map[string][]string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
	}

	req.Header.Add("Accept", ContentType)
	if body != nil {
		req.Header.Add("Content-Type", ContentType)
	}

	for header, headerValue := range headers {
		req.Header.Del(header)
		for _, val := range headerValue {
			req.Header.Add(header, val)
		}
	}

	if isUnsafe(method) && c.sessionTokenPath != "" {
		token, err := c.sessionToken(ctx)
		if err != nil {
			return syntheticResponse(err), errors.SyntheticUnavailableBody(err), nil
		}
		req.Header.Add("X-CSRF-Token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cause := fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
		return syntheticResponse(cause), errors.SyntheticUnavailableBody(cause), nil
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", "request", string(reqbytes), "response", string(respbytes))
	}

	return resp, respBody, nil
}

func syntheticResponse(cause error) *http.Response {
	return &http.Response{
		Status:     "503 Service Unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": {ContentType}},
		Body:       io.NopCloser(bytes.NewReader(errors.SyntheticUnavailableBody(cause))),
	}
}

func stripDirectives(rd *records.RelationshipData) *records.RelationshipData {
	if rd == nil {
		return records.NewToOne(nil)
	}

	c := rd.Clone()
	if c.One != nil {
		one := c.One.Identity()
		c.One = &one
	}
	for i := range c.Many {
		c.Many[i] = c.Many[i].Identity()
	}

	return c
}

func encodeRecord(r *records.Record) ([]byte, error) {
	resource := struct {
		Type          string                               `json:"type"`
		ID            string                               `json:"id,omitempty"`
		Attributes    map[string]any                       `json:"attributes,omitempty"`
		Relationships map[string]*records.RelationshipData `json:"relationships,omitempty"`
	}{
		Type:       r.Type,
		ID:         r.ID,
		Attributes: r.Attributes,
	}

	if len(r.Relationships) > 0 {
		resource.Relationships = map[string]*records.RelationshipData{}
		for name, rd := range r.Relationships {
			resource.Relationships[name] = stripDirectives(rd)
		}
	}

	return json.Marshal(struct {
		Data any `json:"data"`
	}{resource})
}

// decodeRecord reads the record in a response document. Responses without a
// body (204) yield the record that was sent.
func decodeRecord(body []byte, sent *records.Record) (*records.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return sent, nil
	}

	doc := document{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if len(doc.Data) == 0 || string(doc.Data) == "null" {
		return sent, nil
	}

	r := &records.Record{}
	if err := json.Unmarshal(doc.Data, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	return r, nil
}

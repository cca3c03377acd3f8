package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultEndpoint is the base URL of the hosted vector store API.
	DefaultEndpoint = "https://api.openai.com/v1"

	// listPageSize is the page size used when enumerating store files.
	listPageSize = 100

	defaultHTTPTimeout = 60 * time.Second
)

// VectorStoreClient implements Client against an OpenAI-style vector store
// API: files are uploaded once, attached to a named store, and treated as
// immutable content afterwards.
type VectorStoreClient struct {
	endpoint   string
	storeID    string
	apiKey     string
	httpClient *http.Client
}

// VectorStoreOption configures a VectorStoreClient.
type VectorStoreOption func(*VectorStoreClient)

// WithEndpoint overrides the API base URL, mainly for tests.
func WithEndpoint(endpoint string) VectorStoreOption {
	return func(c *VectorStoreClient) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(client *http.Client) VectorStoreOption {
	return func(c *VectorStoreClient) {
		c.httpClient = client
	}
}

// NewVectorStoreClient creates a client for the given store.
func NewVectorStoreClient(storeID, apiKey string, opts ...VectorStoreOption) (*VectorStoreClient, error) {
	if storeID == "" {
		return nil, fmt.Errorf("vector store id is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	client := &VectorStoreClient{
		endpoint: DefaultEndpoint,
		storeID:  storeID,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Upload stores content as a file named externalID and attaches it to the
// vector store. The attachment id is the remote id tracked in state.
func (c *VectorStoreClient) Upload(ctx context.Context, externalID string, content []byte, meta Metadata) (string, error) {
	fileID, err := c.createFile(ctx, externalID, content)
	if err != nil {
		return "", err
	}
	return c.attachFile(ctx, fileID, externalID, meta)
}

// Delete detaches the object with the given remote id from the store. A 404
// means the object is already gone, which is the desired end state.
func (c *VectorStoreClient) Delete(ctx context.Context, remoteID string) error {
	endpoint := fmt.Sprintf("%s/vector_stores/%s/files/%s",
		c.endpoint, url.PathEscape(c.storeID), url.PathEscape(remoteID))

	_, status, err := c.do(ctx, http.MethodDelete, endpoint, "", nil)
	if err != nil {
		if status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// List enumerates every file attached to the store, following the cursor
// pagination the API exposes.
func (c *VectorStoreClient) List(ctx context.Context) ([]File, error) {
	var files []File
	cursor := ""

	for {
		endpoint := fmt.Sprintf("%s/vector_stores/%s/files?limit=%d",
			c.endpoint, url.PathEscape(c.storeID), listPageSize)
		if cursor != "" {
			endpoint += "&after=" + url.QueryEscape(cursor)
		}

		body, _, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
		if err != nil {
			return nil, err
		}

		result := gjson.ParseBytes(body)
		for _, item := range result.Get("data").Array() {
			files = append(files, File{
				RemoteID:   item.Get("id").String(),
				ExternalID: item.Get("attributes.external_id").String(),
			})
		}

		if !result.Get("has_more").Bool() {
			return files, nil
		}
		cursor = result.Get("last_id").String()
		if cursor == "" {
			return files, nil
		}
	}
}

// createFile uploads the raw content and returns the backend file id.
func (c *VectorStoreClient) createFile(ctx context.Context, externalID string, content []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", &PermanentError{Op: "upload", Err: err}
	}
	part, err := writer.CreateFormFile("file", externalID)
	if err != nil {
		return "", &PermanentError{Op: "upload", Err: err}
	}
	if _, err := part.Write(content); err != nil {
		return "", &PermanentError{Op: "upload", Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &PermanentError{Op: "upload", Err: err}
	}

	body, _, err := c.do(ctx, http.MethodPost, c.endpoint+"/files", writer.FormDataContentType(), buf.Bytes())
	if err != nil {
		return "", err
	}

	fileID := gjson.GetBytes(body, "id").String()
	if fileID == "" {
		return "", &PermanentError{Op: "upload", Err: fmt.Errorf("file create response carried no id")}
	}
	return fileID, nil
}

// attachFile links an uploaded file into the vector store, recording the
// external identity as a file attribute so listings can be reconciled.
func (c *VectorStoreClient) attachFile(ctx context.Context, fileID, externalID string, meta Metadata) (string, error) {
	attributes := map[string]string{
		"external_id": externalID,
	}
	if meta.DocumentType != "" {
		attributes["document_type"] = meta.DocumentType
	}
	if meta.Title != "" {
		attributes["title"] = meta.Title
	}

	payload, err := json.Marshal(map[string]any{
		"file_id":    fileID,
		"attributes": attributes,
	})
	if err != nil {
		return "", &PermanentError{Op: "upload", Err: err}
	}

	endpoint := fmt.Sprintf("%s/vector_stores/%s/files", c.endpoint, url.PathEscape(c.storeID))
	body, _, err := c.do(ctx, http.MethodPost, endpoint, "application/json", payload)
	if err != nil {
		return "", err
	}

	attachedID := gjson.GetBytes(body, "id").String()
	if attachedID == "" {
		return "", &PermanentError{Op: "upload", Err: fmt.Errorf("attach response carried no id")}
	}
	return attachedID, nil
}

// do executes one HTTP request and maps failures into the retry taxonomy.
// It returns the response body and status code.
func (c *VectorStoreClient) do(ctx context.Context, method, endpoint, contentType string, payload []byte) ([]byte, int, error) {
	op := strings.ToLower(method)

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, &PermanentError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := gjson.GetBytes(body, "error.message").String()
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return body, resp.StatusCode, classifyStatus(op, resp.StatusCode, fmt.Errorf("%s", message))
	}

	return body, resp.StatusCode, nil
}

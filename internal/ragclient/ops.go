package ragclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// Operation names, used as metric and log labels.
const (
	OpPushFile      = "push_file"
	OpPushURL       = "push_url"
	OpReindex       = "reindex"
	OpDelete        = "delete"
	OpSearch        = "search"
	OpListDocuments = "list_documents"
	OpUpdateMeta    = "update_meta"
	OpAnalyze       = "analyze"
	OpHealth        = "health"
	OpIngestArticle = "ingest_articles"
	OpParseIssue    = "parse_issue"
	OpArticlePDF    = "article_pdf"
)

// FileRequest is a file to hand to the indexing service.
type FileRequest struct {
	DocID         string
	FileName      string
	MimeType      string
	ContentSHA256 string
	Title         string
	Description   string
	Audience      string
	Data          []byte
	Metadata      map[string]any
}

// URLRequest is a web page to hand to the indexing service.
type URLRequest struct {
	DocID       string
	URL         string
	Title       string
	Description string
	Audience    string
	Metadata    map[string]any
}

// SearchRequest is a similarity search against indexed content.
type SearchRequest struct {
	Query   string
	TopK    int
	Filters map[string]any
}

// AnalyzeRequest is an ephemeral document analysis; nothing is stored remotely.
type AnalyzeRequest struct {
	FileName  string
	MimeType  string
	Data      []byte
	MaxChunks int
}

// PushFile submits file content for indexing.
func (c *Client) PushFile(ctx context.Context, in FileRequest) (Response, error) {
	payload := mergeMetadata(in.Metadata, map[string]any{
		"docId":         in.DocID,
		"contentSha256": in.ContentSHA256,
		"fileName":      in.FileName,
		"mimeType":      in.MimeType,
		"data":          base64.StdEncoding.EncodeToString(in.Data),
		"title":         in.Title,
		"description":   in.Description,
		"audience":      in.Audience,
	})
	cl, err := c.jsonCall(OpPushFile, http.MethodPost, "/ingest/file", payload)
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, cl)
}

// PushURL submits a web URL for fetching and indexing.
func (c *Client) PushURL(ctx context.Context, in URLRequest) (Response, error) {
	payload := mergeMetadata(in.Metadata, map[string]any{
		"docId":       in.DocID,
		"url":         in.URL,
		"title":       in.Title,
		"description": in.Description,
		"audience":    in.Audience,
	})
	cl, err := c.jsonCall(OpPushURL, http.MethodPost, "/ingest/url", payload)
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, cl)
}

// Reindex asks the service to re-chunk and re-embed a document it already holds.
func (c *Client) Reindex(ctx context.Context, remoteID string) (Response, error) {
	cl, err := c.jsonCall(OpReindex, http.MethodPost, "/ingest/reindex", map[string]any{"docId": remoteID})
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, cl)
}

// Delete removes a document remotely. A remote 404 is a success with NotFound set.
func (c *Client) Delete(ctx context.Context, remoteID string) (Response, error) {
	cl := call{
		op:         OpDelete,
		method:     http.MethodDelete,
		path:       "/documents/" + url.PathEscape(remoteID),
		notFoundOK: true,
	}
	return c.do(ctx, cl)
}

// Search runs a similarity query. TopK defaults to 4.
func (c *Client) Search(ctx context.Context, in SearchRequest) (Response, error) {
	topK := in.TopK
	if topK <= 0 {
		topK = 4
	}
	payload := map[string]any{
		"query": in.Query,
		"top_k": topK,
	}
	if len(in.Filters) > 0 {
		payload["where"] = in.Filters
	}
	cl, err := c.jsonCall(OpSearch, http.MethodPost, "/search", payload)
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, cl)
}

// ListDocuments fetches the service's own view of indexed documents.
func (c *Client) ListDocuments(ctx context.Context, limit int) (Response, error) {
	cl := call{
		op:     OpListDocuments,
		method: http.MethodGet,
		path:   "/documents",
		query:  url.Values{"limit": []string{strconv.Itoa(limit)}},
	}
	return c.do(ctx, cl)
}

// UpdateMeta replaces the descriptive metadata the service stores for a document.
func (c *Client) UpdateMeta(ctx context.Context, remoteID string, meta map[string]any) (Response, error) {
	cl, err := c.jsonCall(OpUpdateMeta, http.MethodPut, "/documents/"+url.PathEscape(remoteID)+"/meta", meta)
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, cl)
}

// Analyze uploads a file for one-off analysis as multipart form data.
func (c *Client) Analyze(ctx context.Context, in AnalyzeRequest) (Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, in.FileName))
	contentType := strings.TrimSpace(in.MimeType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err == nil {
		_, err = part.Write(in.Data)
	}
	if err == nil && in.MaxChunks > 0 {
		err = w.WriteField("max_chunks", strconv.Itoa(in.MaxChunks))
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return Response{}, &Error{Op: OpAnalyze, Kind: KindConfig, Message: "encode multipart body", Err: err}
	}

	cl := call{
		op:          OpAnalyze,
		method:      http.MethodPost,
		path:        "/analyze",
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}
	return c.do(ctx, cl)
}

// Article describes one article cut out of an issue document. Either a page
// range or an offset locates it; zero values are omitted from the payload.
type Article struct {
	Title        string   `json:"title"`
	PageRange    string   `json:"pageRange"`
	Authors      []string `json:"authors,omitempty"`
	Section      string   `json:"section,omitempty"`
	Description  string   `json:"description,omitempty"`
	Year         int      `json:"year,omitempty"`
	JournalTitle string   `json:"journalTitle,omitempty"`
	IssueLabel   string   `json:"issueLabel,omitempty"`
	Audience     string   `json:"audience,omitempty"`
	StartPage    *int     `json:"startPage,omitempty"`
	EndPage      *int     `json:"endPage,omitempty"`
	Offset       *int     `json:"offset,omitempty"`
}

// IngestArticles registers the articles contained in an already indexed issue.
func (c *Client) IngestArticles(ctx context.Context, remoteID string, articles []Article) (Response, error) {
	payload := map[string]any{"docId": remoteID, "articles": articles}
	cl, err := c.jsonCall(OpIngestArticle, http.MethodPost, "/ingest/articles", payload)
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, cl)
}

// ParseIssueRequest asks the service to draft articles from an issue's table of contents.
type ParseIssueRequest struct {
	DocID    string
	Offset   *int
	MaxItems *int
}

// ParseIssue returns article drafts for an indexed issue.
func (c *Client) ParseIssue(ctx context.Context, in ParseIssueRequest) (Response, error) {
	payload := map[string]any{"docId": in.DocID}
	if in.Offset != nil {
		payload["offset"] = *in.Offset
	}
	if in.MaxItems != nil {
		payload["maxItems"] = *in.MaxItems
	}
	cl, err := c.jsonCall(OpParseIssue, http.MethodPost, "/parse/issue", payload)
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, cl)
}

// ArticlePDF downloads pages start..end of an issue as a PDF. Body holds the raw bytes.
func (c *Client) ArticlePDF(ctx context.Context, remoteID string, start, end int, fileName string) (Response, error) {
	q := url.Values{
		"start": []string{strconv.Itoa(start)},
		"end":   []string{strconv.Itoa(end)},
	}
	if fileName != "" {
		q.Set("filename", fileName)
	}
	return c.do(ctx, call{
		op:     OpArticlePDF,
		method: http.MethodGet,
		path:   "/article/pdf/" + url.PathEscape(remoteID),
		query:  q,
		binary: true,
	})
}

// Health reports whether the service is up.
func (c *Client) Health(ctx context.Context) (Response, error) {
	return c.do(ctx, call{op: OpHealth, method: http.MethodGet, path: "/health"})
}

// mergeMetadata layers fixed over meta so callers cannot override core fields.
func mergeMetadata(meta map[string]any, fixed map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+len(fixed))
	for k, v := range meta {
		out[k] = v
	}
	for k, v := range fixed {
		out[k] = v
	}
	return out
}

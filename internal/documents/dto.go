package documents

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/ragclient"
)

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Status        Status         `json:"status"`
	Audience      Audience       `json:"audience"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	FileName      string         `json:"fileName,omitempty"`
	MimeType      string         `json:"mimeType,omitempty"`
	FileSize      int64          `json:"fileSize,omitempty"`
	SourceURL     string         `json:"sourceUrl,omitempty"`
	ContentSHA256 string         `json:"contentSha256,omitempty"`
	RemoteID      string         `json:"remoteId,omitempty"`
	Error         *string        `json:"error"`
	InsertedAt    *time.Time     `json:"insertedAt"`
	AdminID       string         `json:"adminId,omitempty"`
	HasOriginal   bool           `json:"hasOriginal"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func toResponse(doc Document) DocumentResponse {
	resp := DocumentResponse{
		ID:            doc.ID,
		Type:          doc.Type,
		Status:        doc.Status,
		Audience:      doc.Audience,
		Title:         doc.Title,
		Description:   doc.Description,
		FileName:      doc.FileName,
		MimeType:      doc.MimeType,
		FileSize:      doc.FileSize,
		SourceURL:     doc.SourceURL,
		ContentSHA256: doc.ContentSHA256,
		RemoteID:      doc.RemoteID,
		InsertedAt:    doc.InsertedAt,
		AdminID:       doc.AdminID,
		HasOriginal:   doc.StorageKey != "",
		Metadata:      doc.Metadata,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if doc.Error != "" {
		msg := doc.Error
		resp.Error = &msg
	}
	return resp
}

type statusResponse struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Error      *string    `json:"error"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	InsertedAt *time.Time `json:"insertedAt"`
}

func toStatusResponse(doc Document) statusResponse {
	resp := statusResponse{
		ID:         doc.ID,
		Status:     doc.Status,
		UpdatedAt:  doc.UpdatedAt,
		InsertedAt: doc.InsertedAt,
	}
	if doc.Error != "" {
		msg := doc.Error
		resp.Error = &msg
	}
	return resp
}

type remoteDocumentResponse struct {
	DocID  string `json:"docId"`
	Title  string `json:"title,omitempty"`
	Status Status `json:"status"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

func toRemoteResponse(rd RemoteDocument) remoteDocumentResponse {
	return remoteDocumentResponse{
		DocID:  rd.ID,
		Title:  rd.Title,
		Status: rd.Status,
		Chunks: rd.Chunks,
		Error:  rd.Error,
	}
}

type urlRequest struct {
	URL         string   `json:"url"`
	Audience    string   `json:"audience"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type articlesRequest struct {
	Articles []ArticleInput `json:"articles"`
}

type parseIssueRequest struct {
	Offset   *int `json:"offset"`
	MaxItems *int `json:"maxItems"`
}

type searchRequest struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Filters map[string]any `json:"filters"`
}

// ragPayload exposes the indexing service's body verbatim, or nil when empty.
func ragPayload(resp ragclient.Response) any {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}

// spreadPayload merges an object body into out; other bodies land under "results".
func spreadPayload(resp ragclient.Response, out gin.H) gin.H {
	if obj := resp.Object(); obj != nil {
		for k, v := range obj {
			out[k] = v
		}
		return out
	}
	if p := ragPayload(resp); p != nil {
		out["results"] = p
	}
	return out
}

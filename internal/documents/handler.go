package documents

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/safety"
	"rag-ingest-backend/internal/shared/server/middleware"
	"rag-ingest-backend/internal/shared/server/respond"
)

const (
	minIDLen = 8
	maxIDLen = 200
	// multipartOverhead covers form fields and boundaries around the file part.
	multipartOverhead = 1 << 20
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc            *Service
	MaxUploadBytes int64
	Limiter        *middleware.RateLimiter
}

// NewHandler constructs a Handler. A nil limiter disables ingest throttling.
func NewHandler(svc *Service, maxUploadBytes int64, limiter *middleware.RateLimiter) *Handler {
	return &Handler{Svc: svc, MaxUploadBytes: maxUploadBytes, Limiter: limiter}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("", middleware.RequireAdmin())
	ingest := admin.Group("", middleware.RateLimit(h.Limiter))

	ingest.POST("/documents/upload", h.upload)
	ingest.POST("/documents/url", h.submitURL)
	ingest.POST("/documents/:id/reindex", h.reindex)
	admin.GET("/documents", h.list)
	admin.GET("/documents/:id", h.get)
	admin.GET("/documents/:id/file", h.original)
	admin.DELETE("/documents/:id", h.delete)
	admin.GET("/rag/documents", h.remoteList)
	admin.GET("/rag/health", h.remoteHealth)
	admin.POST("/rag/selftest", h.selfTest)
	ingest.POST("/documents/:id/articles", h.ingestArticles)
	admin.POST("/documents/:id/parse-issue", h.parseIssue)
	admin.GET("/documents/:id/article-pdf", h.articlePDF)

	rg.POST("/search", h.search)
}

func (h *Handler) upload(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			respond.Error(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("File too large. Max %d MB", h.MaxUploadBytes>>20), nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "file is required", nil)
		return
	}

	data, err := readPart(fileHeader, h.MaxUploadBytes)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "unable to read file", nil)
		return
	}

	audience, ok := ParseAudience(c.PostForm("audience"))
	if !ok {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "audience must be one of CLIENT, SOCIAL_WORKER, BOTH", nil)
		return
	}

	declared := strings.TrimSpace(c.PostForm("mimeType"))
	if declared == "" {
		declared = fileHeader.Header.Get("Content-Type")
	}

	meta, err := formMetadata(c)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	result, err := h.Svc.IngestFile(c.Request.Context(), FileUpload{
		FileName:     fileHeader.Filename,
		DeclaredMIME: declared,
		Data:         data,
		Audience:     audience,
		Title:        c.PostForm("title"),
		Description:  c.PostForm("description"),
		Metadata:     meta,
		AdminID:      middleware.UserIDFromContext(c),
	})
	h.writeIngest(c, result, err)
}

func (h *Handler) submitURL(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	audience, ok := ParseAudience(req.Audience)
	if !ok {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "audience must be one of CLIENT, SOCIAL_WORKER, BOTH", nil)
		return
	}

	var meta map[string]any
	if tags := capList(cleanTags(req.Tags), maxTags); len(tags) > 0 {
		meta = map[string]any{"tags": tags}
	}

	result, err := h.Svc.IngestURL(c.Request.Context(), URLSubmission{
		URL:         req.URL,
		Audience:    audience,
		Title:       req.Title,
		Description: req.Description,
		Metadata:    meta,
		AdminID:     middleware.UserIDFromContext(c),
	})
	h.writeIngest(c, result, err)
}

func (h *Handler) writeIngest(c *gin.Context, result IngestResult, err error) {
	if result.Doc.ID != "" {
		c.Set(middleware.DocumentIDKey, result.Doc.ID)
		c.Set(middleware.StatusTransitionKey, string(result.Doc.Status))
	}
	if err != nil {
		var extras gin.H
		if result.Doc.ID != "" {
			extras = gin.H{"doc": toResponse(result.Doc)}
		}
		writeError(c, err, extras)
		return
	}
	respond.Created(c, gin.H{
		"doc": toResponse(result.Doc),
		"rag": ragPayload(result.RAG),
	})
}

func (h *Handler) reindex(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.Svc.Reindex(c.Request.Context(), id)
	if result.Doc.ID != "" {
		c.Set(middleware.StatusTransitionKey, string(result.Doc.Status))
	}
	if err != nil {
		var extras gin.H
		if result.Doc.ID != "" {
			extras = gin.H{"doc": toStatusResponse(result.Doc)}
		}
		writeError(c, err, extras)
		return
	}
	respond.OK(c, gin.H{
		"doc": toStatusResponse(result.Doc),
		"rag": ragPayload(result.RAG),
	})
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.Svc.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	respond.OK(c, gin.H{
		"deleted":       result.Deleted,
		"hadLocal":      result.HadLocal,
		"remoteMissing": result.RemoteMissing,
	})
}

func (h *Handler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	doc, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	respond.OK(c, gin.H{"doc": toResponse(doc)})
}

func (h *Handler) original(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rc, doc, err := h.Svc.OpenOriginal(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	defer rc.Close()

	contentType := doc.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename=%q`, doc.FileName),
	})
}

func (h *Handler) list(c *gin.Context) {
	filter := ListFilter{}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Limit = parsed
		}
	}
	if v := c.Query("audience"); v != "" {
		a, ok := ParseAudience(v)
		if !ok {
			respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown audience", nil)
			return
		}
		filter.Audience = a
	}
	if v := c.Query("type"); v != "" {
		t, ok := ParseType(v)
		if !ok {
			respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown type", nil)
			return
		}
		filter.Type = t
	}
	if v := c.Query("status"); v != "" {
		s, ok := ParseStatus(v)
		if !ok || s == StatusDeleted {
			respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown status", nil)
			return
		}
		filter.Status = s
	}

	docs, err := h.Svc.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc))
	}
	respond.OK(c, gin.H{"docs": resp, "count": len(resp)})
}

func (h *Handler) remoteList(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	docs, err := h.Svc.RemoteDocuments(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	resp := make([]remoteDocumentResponse, 0, len(docs))
	for _, rd := range docs {
		resp = append(resp, toRemoteResponse(rd))
	}
	respond.OK(c, gin.H{"docs": resp, "count": len(resp)})
}

func (h *Handler) remoteHealth(c *gin.Context) {
	resp, err := h.Svc.RemoteHealth(c.Request.Context())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	respond.OK(c, gin.H{"rag": ragPayload(resp)})
}

func (h *Handler) selfTest(c *gin.Context) {
	report := h.Svc.SelfTest(c.Request.Context(), middleware.UserIDFromContext(c))
	respond.JSON(c, report.HTTPStatus(), report)
}

func (h *Handler) ingestArticles(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req articlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	result, err := h.Svc.IngestArticles(c.Request.Context(), id, req.Articles)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	respond.OK(c, gin.H{
		"docId": result.RemoteID,
		"count": result.Count,
		"rag":   ragPayload(result.RAG),
	})
}

func (h *Handler) parseIssue(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req parseIssueRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
			return
		}
	}
	resp, err := h.Svc.ParseIssue(c.Request.Context(), id, req.Offset, req.MaxItems)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	respond.OK(c, spreadPayload(resp, gin.H{}))
}

func (h *Handler) articlePDF(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	start, err1 := strconv.Atoi(c.Query("start"))
	end, err2 := strconv.Atoi(c.Query("end"))
	if err1 != nil || err2 != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "start and end are required page numbers", nil)
		return
	}
	resp, err := h.Svc.ArticlePDF(c.Request.Context(), id, start, end, c.Query("filename"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.Header("Content-Disposition", resp.Disposition)
	c.Data(http.StatusOK, resp.ContentType, resp.Body)
}

func (h *Handler) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	resp, err := h.Svc.Search(c.Request.Context(), req.Query, req.TopK, req.Filters)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	respond.OK(c, spreadPayload(resp, gin.H{}))
}

// pathID reads and checks the :id parameter, answering 400 itself when implausible.
func pathID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if len(id) < minIDLen || len(id) > maxIDLen {
		respond.Error(c, http.StatusBadRequest, "INVALID_ID", "invalid document id", nil)
		return "", false
	}
	c.Set(middleware.DocumentIDKey, id)
	return id, true
}

// writeError maps service, validation and upstream failures onto the JSON error shape.
func writeError(c *gin.Context, err error, extras gin.H) {
	var safetyErr *safety.Error
	if errors.As(err, &safetyErr) {
		respond.Error(c, safetyErr.Status, safetyErr.Code, safetyErr.Message, extras)
		return
	}
	if ragErr, ok := ragclient.AsError(err); ok {
		if extras == nil {
			extras = gin.H{}
		}
		rag := gin.H{"kind": string(ragErr.Kind), "attempts": ragErr.Attempts}
		if ragErr.Status > 0 {
			rag["status"] = ragErr.Status
		}
		if len(ragErr.Payload) > 0 {
			rag["payload"] = ragErr.Payload
		}
		extras["rag"] = rag
		respond.Error(c, ragErr.HTTPStatus(), ragErr.Code(), ragErr.Message, extras)
		return
	}

	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "NOT_FOUND", "document not found", extras)
	case errors.Is(err, ErrNoArchive):
		respond.Error(c, http.StatusNotFound, "NO_ARCHIVE", "original file is not available", extras)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "), extras)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(c, http.StatusConflict, "INVALID_TRANSITION", err.Error(), extras)
	default:
		_ = c.Error(err)
		respond.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", extras)
	}
}

func readPart(fh *multipart.FileHeader, max int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if max > 0 {
		// One byte past the ceiling is enough for the validator to reject.
		r = io.LimitReader(f, max+1)
	}
	return io.ReadAll(r)
}

func formMetadata(c *gin.Context) (map[string]any, error) {
	return UploadFields{
		Tags:         c.PostForm("tags"),
		Authors:      c.PostForm("authors"),
		Year:         c.PostForm("year"),
		IssueID:      c.PostForm("issueId"),
		IssueLabel:   c.PostForm("issueLabel"),
		ArticleID:    c.PostForm("articleId"),
		Section:      c.PostForm("section"),
		Pages:        c.PostForm("pages"),
		PageRange:    c.PostForm("pageRange"),
		JournalTitle: c.PostForm("journalTitle"),
	}.Metadata()
}

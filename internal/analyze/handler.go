package analyze

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"rag-ingest-backend/internal/quota"
	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/safety"
	"rag-ingest-backend/internal/shared/server/middleware"
	"rag-ingest-backend/internal/shared/server/respond"
)

// Handler exposes the analyze endpoints.
type Handler struct {
	Svc            *Service
	MaxUploadBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	return &Handler{Svc: svc, MaxUploadBytes: maxUploadBytes}
}

// RegisterRoutes attaches analyze routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/analyze/usage", h.usage)
	rg.POST("/analyze/file", h.analyzeFile)
}

func (h *Handler) usage(c *gin.Context) {
	p, ok := middleware.PrincipalFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	d, err := h.Svc.Usage(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		respond.Error(c, http.StatusServiceUnavailable, "QUOTA_UNAVAILABLE", "usage is temporarily unavailable", nil)
		return
	}
	respond.OK(c, gin.H{
		"used":         d.Used,
		"limit":        d.Limit,
		"resetSeconds": d.ResetSeconds,
	})
}

func (h *Handler) analyzeFile(c *gin.Context) {
	p, ok := middleware.PrincipalFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+(1<<20))
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			respond.Error(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File too large", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "unable to read file", nil)
		return
	}
	defer f.Close()
	var r io.Reader = f
	if h.MaxUploadBytes > 0 {
		r = io.LimitReader(f, h.MaxUploadBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "unable to read file", nil)
		return
	}

	maxChunks, _ := strconv.Atoi(strings.TrimSpace(c.PostForm("maxChunks")))
	result, err := h.Svc.Analyze(c.Request.Context(), p, Input{
		FileName:     fileHeader.Filename,
		DeclaredMIME: fileHeader.Header.Get("Content-Type"),
		Data:         data,
		MaxChunks:    maxChunks,
	})
	if err != nil {
		h.writeError(c, result, err)
		return
	}

	payload := gin.H{"usage": usageBody(result.Decision)}
	if obj := result.RAG.Object(); obj != nil {
		payload["result"] = obj
	}
	respond.OK(c, payload)
}

func (h *Handler) writeError(c *gin.Context, result Result, err error) {
	var safetyErr *safety.Error
	switch {
	case errors.As(err, &safetyErr):
		respond.Error(c, safetyErr.Status, safetyErr.Code, safetyErr.Message, nil)
	case errors.Is(err, ErrQuotaExceeded):
		d := result.Decision
		c.Header("Retry-After", strconv.Itoa(d.ResetSeconds))
		respond.Error(c, http.StatusTooManyRequests, "QUOTA_EXCEEDED", "Daily analyze limit reached", usageBody(d))
	case errors.Is(err, quota.ErrNoUser):
		respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	default:
		if ragErr, ok := ragclient.AsError(err); ok {
			respond.Error(c, ragErr.HTTPStatus(), ragErr.Code(), ragErr.Message, gin.H{"usage": usageBody(result.Decision)})
			return
		}
		_ = c.Error(err)
		respond.Error(c, http.StatusServiceUnavailable, "QUOTA_UNAVAILABLE", "usage is temporarily unavailable", nil)
	}
}

func usageBody(d quota.Decision) gin.H {
	return gin.H{
		"used":         d.Used,
		"limit":        d.Limit,
		"resetSeconds": d.ResetSeconds,
	}
}

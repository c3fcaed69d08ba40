// Package analyze runs one-off, quota-gated document analysis through the indexing service.
package analyze

import (
	"context"
	"errors"

	"rag-ingest-backend/internal/quota"
	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/safety"
	"rag-ingest-backend/internal/shared/auth"
	"rag-ingest-backend/internal/shared/util"
)

const defaultMaxChunks = 200

// ErrQuotaExceeded is returned when the caller has used today's allowance.
var ErrQuotaExceeded = errors.New("daily analyze limit reached")

// Analyzer is the slice of the indexing client this package needs.
type Analyzer interface {
	Analyze(ctx context.Context, in ragclient.AnalyzeRequest) (ragclient.Response, error)
}

// Service validates, charges and forwards analyze requests.
type Service struct {
	Ledger    *quota.Ledger
	RAG       Analyzer
	Validator *safety.Validator
	MaxChunks int
}

// Input is one file submitted for analysis.
type Input struct {
	FileName     string
	DeclaredMIME string
	Data         []byte
	MaxChunks    int
}

// Result carries the quota standing alongside the remote payload.
type Result struct {
	Decision quota.Decision
	RAG      ragclient.Response
}

// Analyze validates the file, charges one attempt and calls the remote service.
// Invalid files are not charged; upstream failures are.
func (s *Service) Analyze(ctx context.Context, p auth.Principal, in Input) (Result, error) {
	verdict, err := s.Validator.ValidateFile(safety.FileInput{
		FileName:     in.FileName,
		DeclaredMIME: in.DeclaredMIME,
		Data:         in.Data,
	})
	if err != nil {
		return Result{}, err
	}

	decision, err := s.Ledger.Consume(ctx, p)
	if err != nil {
		return Result{}, err
	}
	if !decision.Allowed {
		return Result{Decision: decision}, ErrQuotaExceeded
	}

	resp, err := s.RAG.Analyze(ctx, ragclient.AnalyzeRequest{
		FileName:  util.SanitizeFileName(in.FileName),
		MimeType:  verdict.MimeType,
		Data:      in.Data,
		MaxChunks: s.clampChunks(in.MaxChunks),
	})
	return Result{Decision: decision, RAG: resp}, err
}

// Usage reports today's standing without charging.
func (s *Service) Usage(ctx context.Context, p auth.Principal) (quota.Decision, error) {
	return s.Ledger.Usage(ctx, p)
}

func (s *Service) clampChunks(n int) int {
	ceiling := s.MaxChunks
	if ceiling <= 0 {
		ceiling = defaultMaxChunks
	}
	if n <= 0 || n > ceiling {
		return ceiling
	}
	return n
}

package documents

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/shared/telemetry"
)

// Self-test step names, in execution order.
const (
	StepEnv       = "env"
	StepHealth    = "rag-health"
	StepIngest    = "ingest"
	StepDocuments = "documents"
	StepSearch    = "search"
	StepCleanup   = "cleanup"
)

// SelfTestStep is the outcome of one end-to-end check.
type SelfTestStep struct {
	Name       string         `json:"name"`
	OK         bool           `json:"ok"`
	DurationMS int64          `json:"durationMs"`
	Error      string         `json:"error,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// SelfTestReport lists every step that ran. OK holds only when all of them passed.
type SelfTestReport struct {
	OK    bool           `json:"ok"`
	Steps []SelfTestStep `json:"steps"`
}

// HTTPStatus is 500 for a configuration failure, 502 when the indexing
// service is unreachable or refuses the test document, and 200 otherwise.
func (r SelfTestReport) HTTPStatus() int {
	for _, st := range r.Steps {
		if st.OK {
			continue
		}
		switch st.Name {
		case StepEnv:
			return http.StatusInternalServerError
		case StepHealth, StepIngest:
			return http.StatusBadGateway
		}
	}
	return http.StatusOK
}

type configured interface{ Configured() bool }

// SelfTest ingests a throwaway text document, looks for it in the remote
// listing and in search results, then deletes it. Cleanup runs whenever the
// ingest step created a document.
func (s *Service) SelfTest(ctx context.Context, adminID string) (report SelfTestReport) {
	run := func(name string, fn func() (map[string]any, error)) bool {
		started := time.Now()
		detail, err := fn()
		step := SelfTestStep{Name: name, OK: err == nil, DurationMS: time.Since(started).Milliseconds(), Detail: detail}
		if err != nil {
			step.Error = failureMessage(err)
		}
		report.Steps = append(report.Steps, step)
		return step.OK
	}
	// Runs after cleanup, so the cleanup step counts toward OK.
	defer func() {
		report.OK = true
		for _, st := range report.Steps {
			report.OK = report.OK && st.OK
		}
		telemetry.Info("documents.selftest", map[string]any{"ok": report.OK, "steps": len(report.Steps)})
	}()

	if !run(StepEnv, func() (map[string]any, error) {
		if c, ok := s.RAG.(configured); ok && !c.Configured() {
			return nil, fmt.Errorf("RAG service base URL or API key is not configured")
		}
		return nil, nil
	}) {
		return report
	}

	if !run(StepHealth, func() (map[string]any, error) {
		resp, err := s.RemoteHealth(ctx)
		if err != nil {
			return nil, err
		}
		return resp.Object(), nil
	}) {
		return report
	}

	marker := "selftest-" + uuid.NewString()[:8]
	var doc Document
	ingested := run(StepIngest, func() (map[string]any, error) {
		result, err := s.IngestFile(ctx, FileUpload{
			FileName:     marker + ".txt",
			DeclaredMIME: "text/plain",
			Data:         []byte(fmt.Sprintf("Self test document. The magic word is %s.\n", marker)),
			Audience:     AudienceBoth,
			Title:        "Self test " + marker,
			Metadata:     map[string]any{"selftest": true},
			AdminID:      adminID,
		})
		doc = result.Doc
		if err != nil {
			return nil, err
		}
		return map[string]any{"docId": doc.ID, "status": string(doc.Status)}, nil
	})
	if doc.ID != "" {
		defer func() {
			run(StepCleanup, func() (map[string]any, error) {
				res, err := s.Delete(context.WithoutCancel(ctx), doc.ID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"deleted": res.Deleted, "remoteMissing": res.RemoteMissing}, nil
			})
		}()
	}
	if !ingested {
		return report
	}

	run(StepDocuments, func() (map[string]any, error) {
		docs, err := s.RemoteDocuments(ctx, 50)
		if err != nil {
			return nil, err
		}
		found := false
		for _, rd := range docs {
			if rd.ID == doc.RemoteKey() {
				found = true
				break
			}
		}
		return map[string]any{"count": len(docs), "found": found}, nil
	})

	run(StepSearch, func() (map[string]any, error) {
		resp, err := s.Search(ctx, marker, 5, map[string]any{"doc_id": doc.RemoteKey()})
		if err != nil {
			return nil, err
		}
		results := searchResults(resp)
		if !searchHit(results, doc.RemoteKey()) {
			return map[string]any{"results": len(results)}, fmt.Errorf("test document not found in search results")
		}
		return map[string]any{"results": len(results), "hit": true}, nil
	})

	return report
}

func searchResults(resp ragclient.Response) []map[string]any {
	raw, _ := resp.Object()["results"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func searchHit(results []map[string]any, docID string) bool {
	for _, r := range results {
		if stringField(r, "doc_id", "docId") == docID {
			return true
		}
		if meta, ok := r["metadata"].(map[string]any); ok && stringField(meta, "doc_id", "docId") == docID {
			return true
		}
	}
	return false
}

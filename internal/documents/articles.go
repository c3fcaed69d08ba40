package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rag-ingest-backend/internal/ragclient"
	"rag-ingest-backend/internal/shared/util"
)

const (
	maxArticles        = 200
	maxParseItems      = 200
	defaultArticleFile = "article.pdf"
)

// ArticleInput is one article of a journal issue as submitted by an admin.
// A StartPage/EndPage pair or an Offset locates the article in the issue.
type ArticleInput struct {
	Title        string   `json:"title"`
	PageRange    string   `json:"pageRange"`
	Authors      []string `json:"authors"`
	Section      string   `json:"section"`
	Description  string   `json:"description"`
	Year         int      `json:"year"`
	JournalTitle string   `json:"journalTitle"`
	IssueLabel   string   `json:"issueLabel"`
	Audience     string   `json:"audience"`
	StartPage    *int     `json:"startPage"`
	EndPage      *int     `json:"endPage"`
	Offset       *int     `json:"offset"`
}

// ArticlesResult reports how many articles the indexing service accepted.
type ArticlesResult struct {
	RemoteID string
	Count    int
	RAG      ragclient.Response
}

// IngestArticles registers the articles of an issue. id may be a local or
// remote ID; unknown IDs are forwarded as remote IDs.
func (s *Service) IngestArticles(ctx context.Context, id string, in []ArticleInput) (ArticlesResult, error) {
	if len(in) == 0 {
		return ArticlesResult{}, invalidInput("articles are required")
	}
	if len(in) > maxArticles {
		return ArticlesResult{}, invalidInput("at most %d articles per request", maxArticles)
	}
	articles := make([]ragclient.Article, 0, len(in))
	for i, a := range in {
		art, err := sanitizeArticle(a)
		if err != nil {
			return ArticlesResult{}, invalidInput("article %d: %s", i+1, err)
		}
		articles = append(articles, art)
	}

	remoteID, err := s.remoteKeyFor(ctx, id)
	if err != nil {
		return ArticlesResult{}, err
	}
	resp, err := s.RAG.IngestArticles(ctx, remoteID, articles)
	if err != nil {
		return ArticlesResult{RemoteID: remoteID}, err
	}
	return ArticlesResult{RemoteID: remoteID, Count: articleCount(resp, len(articles)), RAG: resp}, nil
}

// ParseIssue asks the indexing service for article drafts from an issue's contents pages.
func (s *Service) ParseIssue(ctx context.Context, id string, offset, maxItems *int) (ragclient.Response, error) {
	if offset != nil && *offset < 0 {
		return ragclient.Response{}, invalidInput("offset must not be negative")
	}
	if maxItems != nil && (*maxItems < 1 || *maxItems > maxParseItems) {
		return ragclient.Response{}, invalidInput("maxItems must be between 1 and %d", maxParseItems)
	}
	remoteID, err := s.remoteKeyFor(ctx, id)
	if err != nil {
		return ragclient.Response{}, err
	}
	return s.RAG.ParseIssue(ctx, ragclient.ParseIssueRequest{DocID: remoteID, Offset: offset, MaxItems: maxItems})
}

// ArticlePDF cuts pages start..end out of an issue. The response always
// carries a content type and an attachment disposition.
func (s *Service) ArticlePDF(ctx context.Context, id string, start, end int, fileName string) (ragclient.Response, error) {
	if start < 1 || end < start {
		return ragclient.Response{}, invalidInput("start and end must be page numbers with start <= end")
	}
	name := defaultArticleFile
	if strings.TrimSpace(fileName) != "" {
		name = util.SanitizeFileName(fileName)
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			name += ".pdf"
		}
	}
	remoteID, err := s.remoteKeyFor(ctx, id)
	if err != nil {
		return ragclient.Response{}, err
	}
	resp, err := s.RAG.ArticlePDF(ctx, remoteID, start, end, name)
	if err != nil {
		return ragclient.Response{}, err
	}
	if resp.ContentType == "" {
		resp.ContentType = "application/pdf"
	}
	if resp.Disposition == "" {
		resp.Disposition = fmt.Sprintf(`attachment; filename=%q`, name)
	}
	return resp, nil
}

// remoteKeyFor maps a local ID to the document's remote key, passing unknown IDs through.
func (s *Service) remoteKeyFor(ctx context.Context, id string) (string, error) {
	doc, err := s.Repo.FindByIDOrRemoteID(ctx, id)
	switch {
	case err == nil:
		return doc.RemoteKey(), nil
	case errors.Is(err, ErrNotFound):
		return id, nil
	default:
		return "", err
	}
}

func sanitizeArticle(a ArticleInput) (ragclient.Article, error) {
	out := ragclient.Article{
		Title:        util.TruncateRunes(a.Title, maxTitleLen),
		PageRange:    util.TruncateRunes(a.PageRange, maxRangeLen),
		Authors:      capList(cleanTags(a.Authors), maxAuthors),
		Section:      util.TruncateRunes(a.Section, maxLabelLen),
		Description:  util.TruncateRunes(a.Description, maxDescriptionLen),
		JournalTitle: util.TruncateRunes(a.JournalTitle, maxJournalLen),
		IssueLabel:   util.TruncateRunes(a.IssueLabel, maxLabelLen),
		StartPage:    a.StartPage,
		EndPage:      a.EndPage,
		Offset:       a.Offset,
	}
	if out.Title == "" {
		return out, errors.New("title is required")
	}
	if out.PageRange == "" {
		return out, errors.New("pageRange is required")
	}
	if a.Year >= minYear && a.Year <= maxYear {
		out.Year = a.Year
	}
	if strings.TrimSpace(a.Audience) != "" {
		audience, ok := ParseAudience(a.Audience)
		if !ok {
			return out, errors.New("audience must be one of CLIENT, SOCIAL_WORKER, BOTH")
		}
		out.Audience = string(audience)
	}
	if (a.StartPage == nil) != (a.EndPage == nil) {
		return out, errors.New("startPage and endPage must be given together")
	}
	if a.StartPage != nil && (*a.StartPage < 1 || *a.EndPage < *a.StartPage) {
		return out, errors.New("page bounds must satisfy 1 <= startPage <= endPage")
	}
	if a.StartPage == nil && a.Offset == nil {
		return out, errors.New("startPage/endPage or offset is required")
	}
	if len(out.Authors) == 0 {
		out.Authors = nil
	}
	return out, nil
}

// articleCount prefers the service's count, then its inserted list, then what was sent.
func articleCount(resp ragclient.Response, sent int) int {
	obj := resp.Object()
	if n, ok := ragclient.IntField(obj, "count"); ok {
		return n
	}
	if inserted, ok := obj["inserted"].([]any); ok {
		return len(inserted)
	}
	return sent
}

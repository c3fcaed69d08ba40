package documents

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"rag-ingest-backend/internal/shared/util"
)

const (
	maxTags       = 20
	maxAuthors    = 12
	maxPages      = 50
	minYear       = 1800
	maxYear       = 2100
	maxLabelLen   = 160
	maxArticleLen = 200
	maxRangeLen   = 120
	maxJournalLen = 255
)

// UploadFields are the optional descriptive form fields of an upload, as sent.
type UploadFields struct {
	Tags         string
	Authors      string
	Year         string
	IssueID      string
	IssueLabel   string
	ArticleID    string
	Section      string
	Pages        string
	PageRange    string
	JournalTitle string
}

// Metadata validates f and returns the fields worth forwarding. Empty fields are omitted.
func (f UploadFields) Metadata() (map[string]any, error) {
	meta := map[string]any{}
	if tags := ParseList(f.Tags, ",", maxTags); len(tags) > 0 {
		meta["tags"] = tags
	}
	if authors := ParseList(f.Authors, ",;\n", maxAuthors); len(authors) > 0 {
		meta["authors"] = authors
	}
	if strings.TrimSpace(f.Year) != "" {
		year, ok := ParseYear(f.Year)
		if !ok {
			return nil, fmt.Errorf("year must be between %d and %d", minYear, maxYear)
		}
		meta["year"] = year
	}
	for key, v := range map[string]string{
		"issueId":      util.TruncateRunes(f.IssueID, maxLabelLen),
		"issueLabel":   util.TruncateRunes(f.IssueLabel, maxLabelLen),
		"section":      util.TruncateRunes(f.Section, maxLabelLen),
		"articleId":    util.TruncateRunes(f.ArticleID, maxArticleLen),
		"pageRange":    util.TruncateRunes(f.PageRange, maxRangeLen),
		"journalTitle": util.TruncateRunes(f.JournalTitle, maxJournalLen),
	} {
		if v != "" {
			meta[key] = v
		}
	}
	if strings.TrimSpace(f.Pages) != "" {
		pages, err := parsePages(f.Pages)
		if err != nil {
			return nil, err
		}
		if len(pages) > 0 {
			meta["pages"] = pages
		}
	}
	return meta, nil
}

// ParseList reads a JSON string array or a list split on any rune in seps.
// Entries are trimmed, de-duplicated and capped at max.
func ParseList(raw, seps string, max int) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parts []string
	if strings.HasPrefix(raw, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			for _, v := range arr {
				if s, ok := v.(string); ok {
					parts = append(parts, s)
				}
			}
			return capList(cleanTags(parts), max)
		}
	}
	parts = strings.FieldsFunc(raw, func(r rune) bool { return strings.ContainsRune(seps, r) })
	return capList(cleanTags(parts), max)
}

// ParseYear accepts whole years in the supported publication range.
func ParseYear(raw string) (int, bool) {
	year, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || year < minYear || year > maxYear {
		return 0, false
	}
	return year, true
}

// parsePages reads a JSON number array or comma-separated page numbers.
func parsePages(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	var pages []int
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &pages); err != nil {
			return nil, fmt.Errorf("pages must be a list of page numbers")
		}
	} else {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("pages must be a list of page numbers")
			}
			pages = append(pages, n)
		}
	}
	out := pages[:0]
	for _, n := range pages {
		if n > 0 {
			out = append(out, n)
		}
	}
	if len(out) > maxPages {
		out = out[:maxPages]
	}
	return out, nil
}

func capList(in []string, max int) []string {
	if max > 0 && len(in) > max {
		return in[:max]
	}
	return in
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

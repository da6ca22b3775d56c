package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/servicenow"
)

var paragraphTags = strings.NewReplacer("<p>", "", "</p>", "")

// SearchKnowledgeBase returns published articles whose short description
// contains query, each with a short plain-text excerpt.
func (s *Toolset) SearchKnowledgeBase(ctx context.Context, query string) (string, error) {
	s.logger.Info("📚 tool called: search_knowledge_base", "query", query)

	records, err := s.client.GetRecords(ctx, TableKnowledge, servicenow.TableQuery{
		Query: servicenow.NewQueryBuilder().
			WhereLike("short_description", query).
			WhereEquals("workflow_state", publishedWorkflowState),
		Fields: servicenow.ArticleFields,
		Limit:  s.limits.KnowledgeLimit,
	})
	if err != nil {
		return "", fmt.Errorf("searching knowledge base: %w", err)
	}
	if len(records) == 0 {
		return MsgNoArticles, nil
	}

	var b strings.Builder
	for _, rec := range records {
		art, err := rec.ToArticle()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "### %s: %s\n%s...\n\n", art.Number, art.ShortDescription, snippet(art.Text, s.limits.SnippetLength))
	}
	return b.String(), nil
}

// snippet removes literal <p> and </p> tags and keeps at most n characters.
func snippet(text string, n int) string {
	text = paragraphTags.Replace(text)
	runes := []rune(text)
	if len(runes) > n {
		return string(runes[:n])
	}
	return text
}

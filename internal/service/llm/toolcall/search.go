package toolcall

import (
	llmModels "relay/internal/domain/models/llm"
	"relay/internal/service/llm/tools"
)

// searchCollector merges web_search outputs: the first query names the
// search, results are deduplicated by URL in discovery order.
type searchCollector struct {
	query   string
	seen    map[string]struct{}
	results []llmModels.SearchSource
	any     bool
}

func newSearchCollector() *searchCollector {
	return &searchCollector{seen: make(map[string]struct{})}
}

func (s *searchCollector) add(outcome tools.Outcome) {
	if outcome.Err != nil {
		return
	}
	output, ok := outcome.Output.(*tools.WebSearchOutput)
	if !ok {
		return
	}
	if !s.any {
		s.query = output.Query
		s.any = true
	}
	for _, r := range output.Results {
		if _, dup := s.seen[r.URL]; dup {
			continue
		}
		s.seen[r.URL] = struct{}{}
		s.results = append(s.results, r)
	}
}

func (s *searchCollector) metadata() *llmModels.SearchMetadata {
	if !s.any {
		return nil
	}
	results := s.results
	if results == nil {
		results = []llmModels.SearchSource{}
	}
	return &llmModels.SearchMetadata{Query: s.query, Results: results}
}

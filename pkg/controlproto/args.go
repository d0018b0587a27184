package controlproto

import "fmt"

// aliasTable is the closed set of argument aliases normalized before
// validation (spec §6).
var aliasTable = map[string]string{
	"q":    "query",
	"cost": "costPreference",
	"aud":  "audienceLevel",
	"fmt":  "outputFormat",
	"src":  "includeSources",
	"imgs": "images",
	"docs": "textDocuments",
	"data": "structuredData",
}

// normalize applies the alias table to raw, producing a canonical argument
// map. Keys not present in the alias table pass through unchanged; a
// canonical key present alongside its alias is left as-is (the canonical
// form wins and the alias's value is dropped).
func normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		canonical := k
		if mapped, ok := aliasTable[k]; ok {
			if _, dup := raw[mapped]; dup {
				continue
			}
			canonical = mapped
		}
		out[canonical] = v
	}
	return out
}

// researchArgs is the normalized argument shape shared by the `research`
// and `submit_research` tools.
type researchArgs struct {
	Query           string           `json:"query"`
	CostPreference  string           `json:"costPreference"`
	AudienceLevel   string           `json:"audienceLevel"`
	OutputFormat    string           `json:"outputFormat"`
	IncludeSources  bool             `json:"includeSources"`
	Images          []string         `json:"images"`
	TextDocuments   []map[string]any `json:"textDocuments"`
	StructuredData  []map[string]any `json:"structuredData"`
	Async           bool             `json:"async"`
}

// parseResearchArgs normalizes and validates the `research`/`submit_research`
// argument shape, promoting bare string entries in textDocuments/
// structuredData to structured entries with synthetic names (spec §6).
func parseResearchArgs(raw map[string]any) (researchArgs, *Error) {
	m := normalize(raw)
	args := researchArgs{Async: true}

	query, _ := m["query"].(string)
	if query == "" {
		return researchArgs{}, ErrValidation("query is required")
	}
	args.Query = query

	if v, ok := m["costPreference"].(string); ok {
		args.CostPreference = v
	}
	if v, ok := m["audienceLevel"].(string); ok {
		args.AudienceLevel = v
	}
	if v, ok := m["outputFormat"].(string); ok {
		args.OutputFormat = v
	}
	if v, ok := m["includeSources"].(bool); ok {
		args.IncludeSources = v
	}
	if v, ok := m["async"].(bool); ok {
		args.Async = v
	}
	if imgs, ok := m["images"].([]any); ok {
		for _, im := range imgs {
			if s, ok := im.(string); ok {
				args.Images = append(args.Images, s)
			}
		}
	}
	args.TextDocuments = promoteEntries(m["textDocuments"], "textDocument")
	args.StructuredData = promoteEntries(m["structuredData"], "structuredData")
	return args, nil
}

// promoteEntries promotes bare string elements of an array argument to
// structured {name, text} entries with synthetic names, leaving already
// structured entries untouched (spec §6).
func promoteEntries(raw any, prefix string) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, map[string]any{"name": fmt.Sprintf("%s-%d", prefix, i+1), "text": v})
		case map[string]any:
			out = append(out, v)
		}
	}
	return out
}

package llm

import (
	"fmt"

	"github.com/ppiankov/decipher/internal/model"
)

const metadataSystem = "You are an expert academic paper interpreter for students. " +
	"You extract structured information from research documents and answer only with JSON."

const conceptSystem = "You build knowledge graphs of the key technical terms in research documents. " +
	"You answer only with JSON."

const explainSystem = "You explain terms found in research papers to readers of a given background. " +
	"You answer in plain prose without markdown."

// BuildMetadataPrompt asks for the structured summary record of a document
func BuildMetadataPrompt(text, language string) string {
	return fmt.Sprintf(`Analyze the following academic paper text and extract structured information.

All descriptive fields (abstract, problem_solved, method_used, implementation, results, impact, comparison, takeaway) MUST be written in simple, layman %[1]s, as if talking to a smart high school student.
If affiliations (institutions) or a url (links/DOI) appear in the header or footer, extract them.

Return one JSON object with exactly these fields:
{
  "title": string,
  "type": string (paper type, e.g. empirical study, survey, methodology),
  "year": integer,
  "venue": string,
  "authors": [string],
  "affiliations": [string],
  "url": string (DOI or URL if present, else ""),
  "keywords": [string],
  "citation_count": integer (estimate if unknown, or 0),
  "abstract": string,
  "problem_solved": string (what problem it solves, in words a child understands),
  "method_used": string (what method it uses, in plain words),
  "implementation": string,
  "results": string,
  "impact": string (impact on the field),
  "comparison": string (comparison with other methods),
  "takeaway": string (the single most important takeaway)
}
Required, never empty: title, type, year, abstract, problem_solved, method_used, takeaway.

Paper Text (Truncated):
%[2]s`, language, text)
}

// BuildConceptPrompt asks for the concept nodes and relations of a document
func BuildConceptPrompt(text, language string) string {
	return fmt.Sprintf(`Extract key technical terms/concepts from this text for a knowledge graph.
Return JSON with "nodes" and "links":
{
  "nodes": [{"id": string (the concept's canonical name), "group": integer (topic cluster, 1-10), "desc": string, "val": integer (importance 10-30)}],
  "links": [{"source": node id, "target": node id, "value": integer (relation strength 1-10)}]
}
Every link must reference ids present in "nodes".
The "desc" field MUST be in %[1]s and very easy to understand (layman terms).

Text: %[2]s`, language, text)
}

// BuildExplainPrompt asks for a short explanation of fragment for the level's audience
func BuildExplainPrompt(fragment, excerpt string, level model.ExplanationLevel, language string, maxWords int) string {
	return fmt.Sprintf(`Explain the text %q found in this paper context:
"%s..."

Target Audience: %s.
Language: %s.
Tone: Friendly, simple, easy to understand.
Constraint: Keep it under %d words. Use a metaphor if it helps.`,
		fragment, excerpt, level.Audience(), language, maxWords)
}

package wikidata

import (
	"fmt"
	"regexp"
)

// churchQuery selects churches with a diocese (P708). The diocese label prefers
// the configured language and falls back to English. The ISO code comes from the
// church country (P17 -> P297) and is kept only when it is exactly two characters.
const churchQuery = `SELECT ?church ?churchLabel ?dioceseLabel ?iso ?coord WHERE {
  ?church wdt:P708 ?diocese .
  ?church rdfs:label ?churchLabel . FILTER(LANG(?churchLabel) = "en")
  OPTIONAL { ?diocese rdfs:label ?dioceseLocal . FILTER(LANG(?dioceseLocal) = "%[1]s") }
  OPTIONAL { ?diocese rdfs:label ?dioceseEn . FILTER(LANG(?dioceseEn) = "en") }
  BIND(COALESCE(?dioceseLocal, ?dioceseEn) AS ?dioceseLabel)
  OPTIONAL {
    ?church wdt:P17 ?country .
    ?country wdt:P297 ?isoRaw .
    FILTER(STRLEN(?isoRaw) = 2)
  }
  BIND(UCASE(COALESCE(?isoRaw, "")) AS ?iso)
  OPTIONAL { ?church wdt:P625 ?coord }
}
ORDER BY ?church
LIMIT %[2]d
OFFSET %[3]d`

var languageTag = regexp.MustCompile(`^[a-z]{2,3}(-[a-z0-9]+)*$`)

// BuildQuery renders the SPARQL text for one page.
func BuildQuery(language string, limit, offset int) string {
	if !languageTag.MatchString(language) {
		language = "en"
	}
	return fmt.Sprintf(churchQuery, language, limit, offset)
}

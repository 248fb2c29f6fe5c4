package searcher

import (
	"regexp"
	"strconv"

	"github.com/dshills/concordance/pkg/types"
)

// titleYearPattern matches a plausible publication year in a title
var titleYearPattern = regexp.MustCompile(`\b(1[0-9]{3}|20[0-9]{2})\b`)

// temporalKey returns the year a document sorts under: its publication date,
// else the first year found in its title, else unknown
func temporalKey(doc *types.Document) (int, types.TemporalSource) {
	if doc == nil {
		return 0, types.TemporalUnknown
	}
	if year := doc.Year(); year != 0 {
		return year, types.TemporalFromDate
	}
	if m := titleYearPattern.FindString(doc.Title); m != "" {
		year, err := strconv.Atoi(m)
		if err == nil {
			return year, types.TemporalFromTitle
		}
	}
	return 0, types.TemporalUnknown
}

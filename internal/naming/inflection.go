package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Pluralize converts a singular word to its plural form.
// Overrides are matched on the whole word first, then on the last
// underscore-separated token, before falling back to the inflection library.
func (n *Namer) Pluralize(word string) string {
	if override, ok := n.config.PluralOverrides[word]; ok {
		return override
	}
	if head, last, ok := splitLastToken(word); ok {
		if override, ok := n.config.PluralOverrides[last]; ok {
			return head + override
		}
	}
	return inflection.Plural(word)
}

// Singularize converts a plural word to its singular form.
func (n *Namer) Singularize(word string) string {
	if override, ok := n.config.SingularOverrides[word]; ok {
		return override
	}
	if head, last, ok := splitLastToken(word); ok {
		if override, ok := n.config.SingularOverrides[last]; ok {
			return head + override
		}
	}
	return inflection.Singular(word)
}

// splitLastToken splits "movie_actors" into "movie_" and "actors".
func splitLastToken(word string) (string, string, bool) {
	idx := strings.LastIndex(word, "_")
	if idx <= 0 || idx == len(word)-1 {
		return "", "", false
	}
	return word[:idx+1], word[idx+1:], true
}

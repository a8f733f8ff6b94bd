package routing

import (
	"strings"
	"unicode"
)

// URL derives the URL of a route declared under prefix.
//
// An empty name addresses the prefix itself. A name starting with "/" is
// an absolute site path. A name containing "/", ":" or "*" is already URL
// shaped and is appended to the prefix. Any other name is an identifier
// and is converted to kebab case first.
func URL(prefix, name string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	switch {
	case name == "":
		return prefix
	case strings.HasPrefix(name, "/"):
		return name
	case strings.ContainsAny(name, "/:*"):
		return prefix + "/" + name
	default:
		return prefix + "/" + Kebab(name)
	}
}

// Kebab converts an identifier to lower kebab case: "saveArea" becomes
// "save-area", "getHTMLPage" becomes "get-html-page".
func Kebab(name string) string {
	return strings.Join(words(name), "-")
}

func words(s string) []string {
	var (
		out []string
		cur []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	rs := []rune(s)
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			switch {
			case unicode.IsLower(prev) && unicode.IsUpper(r):
				flush()
			case unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(rs) && unicode.IsLower(rs[i+1]):
				// acronym followed by a word: HTMLPage
				flush()
			case unicode.IsDigit(prev) != unicode.IsDigit(r):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

// Pattern translates a route URL to a chi pattern: ":name" parameters
// become "{name}". A trailing "*" is kept as chi's catch-all.
func Pattern(url string) string {
	var b strings.Builder
	for i := 0; i < len(url); i++ {
		if url[i] != ':' {
			b.WriteByte(url[i])
			continue
		}
		j := i + 1
		for j < len(url) && isParamByte(url[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(':')
			continue
		}
		b.WriteString("{" + url[i+1:j] + "}")
		i = j - 1
	}
	return b.String()
}

// shape erases parameter names so that "/a/:id" and "/a/:slug" compare
// equal.
func shape(url string) string {
	var b strings.Builder
	for i := 0; i < len(url); i++ {
		b.WriteByte(url[i])
		if url[i] != ':' {
			continue
		}
		for i+1 < len(url) && isParamByte(url[i+1]) {
			i++
		}
	}
	return b.String()
}

func isParamByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

package reference

import (
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// Citation is the publication metadata carried on a source row.
type Citation struct {
	Text   string
	Author string
	Year   *int
	Title  string
}

func (c Citation) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && strings.TrimSpace(c.Author) == "" &&
		strings.TrimSpace(c.Title) == "" && c.Year == nil
}

var (
	citationYear     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	citationTrailing = regexp.MustCompile(`[,.()\s]+$`)
	citationLeading  = regexp.MustCompile(`^[,.():\s]+`)
)

// ParseCitation splits "Author, A. 1998. Title of work. Journal" into
// author, year and title. Fields that cannot be found are left empty.
func ParseCitation(text string) Citation {
	c := Citation{Text: strings.TrimSpace(text)}
	loc := citationYear.FindStringSubmatchIndex(c.Text)
	if loc == nil {
		return c
	}
	if y, err := strconv.Atoi(c.Text[loc[2]:loc[3]]); err == nil {
		c.Year = &y
	}
	c.Author = citationTrailing.ReplaceAllString(strings.TrimSpace(c.Text[:loc[0]]), "")

	rest := citationLeading.ReplaceAllString(c.Text[loc[1]:], "")
	if i := strings.Index(rest, ". "); i >= 0 {
		rest = rest[:i]
	}
	c.Title = strings.TrimSpace(strings.TrimSuffix(rest, "."))
	return c
}

// Merge overlays explicit author/year/title values onto a parsed citation.
func (c Citation) Merge(author string, year *int, title string) Citation {
	if a := strings.TrimSpace(author); a != "" {
		c.Author = a
	}
	if year != nil {
		c.Year = year
	}
	if t := strings.TrimSpace(title); t != "" {
		c.Title = t
	}
	return c
}

func fingerprintText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// Fingerprint identifies a publication by author, year and title, falling
// back to the full citation text when neither author nor title is known.
func (c Citation) Fingerprint() string {
	var key string
	if c.Author != "" || c.Title != "" {
		year := ""
		if c.Year != nil {
			year = strconv.Itoa(*c.Year)
		}
		key = fingerprintText(c.Author) + "|" + year + "|" + fingerprintText(c.Title)
	} else {
		key = "text|" + fingerprintText(c.Text)
	}
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// String renders the citation text, synthesizing one from parts if needed.
func (c Citation) String() string {
	if c.Text != "" {
		return c.Text
	}
	parts := []string{}
	if c.Author != "" {
		parts = append(parts, c.Author)
	}
	if c.Year != nil {
		parts = append(parts, strconv.Itoa(*c.Year))
	}
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	return strings.Join(parts, ". ")
}

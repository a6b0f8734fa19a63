package importer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Column alias priorities for derived fields. First non-empty wins.
var (
	playerNameColumns = []string{"name", "playername", "player"}
	guildNameColumns  = []string{"name", "guildname", "guild"}
	classColumns      = []string{"class", "classname"}
	levelColumns      = []string{"level", "lvl"}
	playerGuildID     = []string{"guildid", "guildidentifier"}
	playerGuildName   = []string{"guild", "guildname"}
	memberColumns     = []string{"members", "membercount", "guildmembers", "membersize"}
	hofColumns        = []string{"hofrank", "halloffame", "hof", "rank"}

	// Attribute stats feed both the ranking sum and the max-wins fold
	// classification.
	attributeColumns = []string{"strength", "dexterity", "intelligence", "constitution", "luck"}
)

// DerivedFields carries the search and ranking material computed for an
// advanced entity.
type DerivedFields struct {
	Name       string
	NameFolded string
	Tokens     []string
	Prefixes   []string

	// Player fields.
	Level        *float64
	Class        string
	GuildID      string
	GuildName    string
	AttributeSum *float64

	// Guild fields.
	Members        *float64
	HallOfFameRank *float64
}

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldName lowercases a name and strips diacritics, so "Østerrike Ünìt"
// matches searches for "osterrike unit".
func FoldName(name string) string {
	folded, _, err := transform.String(diacriticFolder, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Tokenize splits a folded name into de-duplicated alphanumeric runs of at
// least two characters.
func Tokenize(folded string) []string {
	var tokens []string
	seen := make(map[string]bool)
	var current strings.Builder
	flush := func() {
		if current.Len() >= 2 {
			tok := current.String()
			if !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
		}
		current.Reset()
	}
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// EdgeNGrams returns every prefix of every token, de-duplicated, for
// substring-style lookup.
func EdgeNGrams(tokens []string) []string {
	var grams []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		for i := 1; i <= len(tok); i++ {
			prefix := tok[:i]
			if !seen[prefix] {
				seen[prefix] = true
				grams = append(grams, prefix)
			}
		}
	}
	return grams
}

// BuildDerived computes the derived fields for one entity's newest row.
func BuildDerived(kind Kind, cols Columns) DerivedFields {
	nameColumns := playerNameColumns
	if kind == KindGuild {
		nameColumns = guildNameColumns
	}
	name := cols.Text(nameColumns...)
	folded := FoldName(name)
	tokens := Tokenize(folded)

	d := DerivedFields{
		Name:       name,
		NameFolded: folded,
		Tokens:     tokens,
		Prefixes:   EdgeNGrams(tokens),
	}

	switch kind {
	case KindPlayer:
		d.Level = cols.Number(levelColumns...)
		d.Class = cols.Text(classColumns...)
		d.GuildID = cols.Text(playerGuildID...)
		d.GuildName = cols.Text(playerGuildName...)
		d.AttributeSum = attributeSum(cols)
	case KindGuild:
		d.Members = cols.Number(memberColumns...)
		d.HallOfFameRank = cols.Number(hofColumns...)
	}
	return d
}

// attributeSum adds up all parseable attribute stats; nil when none parse.
func attributeSum(cols Columns) *float64 {
	var sum float64
	found := false
	for _, attr := range attributeColumns {
		if n := cols.Number(attr); n != nil {
			sum += *n
			found = true
		}
	}
	if !found {
		return nil
	}
	return &sum
}

// Map renders the derived fields for the latest-projection merge write.
func (d DerivedFields) Map() map[string]any {
	m := map[string]any{
		"name":       d.Name,
		"nameFolded": d.NameFolded,
		"tokens":     toAnySlice(d.Tokens),
		"prefixes":   toAnySlice(d.Prefixes),
	}
	if d.Level != nil {
		m["level"] = *d.Level
	}
	if d.Class != "" {
		m["class"] = d.Class
	}
	if d.GuildID != "" {
		m["guildId"] = d.GuildID
	}
	if d.GuildName != "" {
		m["guildName"] = d.GuildName
	}
	if d.AttributeSum != nil {
		m["attributeSum"] = *d.AttributeSum
	}
	if d.Members != nil {
		m["members"] = *d.Members
	}
	if d.HallOfFameRank != nil {
		m["hofRank"] = *d.HallOfFameRank
	}
	return m
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

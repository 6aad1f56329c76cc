package conversation

import (
	"regexp"
	"strings"
)

// Extraction is what opportunistic parsing pulled out of one message: the
// clause that answers the current question plus any other flow fields the
// customer volunteered ahead of time.
type Extraction struct {
	Primary string
	Fields  map[string]string
}

var (
	dateRE     = regexp.MustCompile(`\b\d{1,2}[/\-.]\d{1,2}(?:[/\-.]\d{2,4})?\b`)
	longDateRE = regexp.MustCompile(`(?i)\b\d{1,2}\s+de\s+[a-záéíóú]+(?:\s+(?:de\s+)?\d{4})?\b`)
	slotRE     = regexp.MustCompile(`(?i)\b(mañana|manana|tarde|noche)\b`)
	gifteeRE   = regexp.MustCompile(`(?i)\b(?:es\s+)?para\s+(mi\s+\w+(?:\s\w+)?|una?\s+\w+)`)
	nameRE     = regexp.MustCompile(`(?i:me llamo|mi nombre es|a nombre de|soy)\s+([A-ZÁÉÍÓÚÑ][a-záéíóúñü]+(?:\s+[A-ZÁÉÍÓÚÑ][a-záéíóúñü]+){0,3})`)
	phoneRE    = regexp.MustCompile(`(?:\+?57[\s-]?)?3\d{9}`)

	// An address clause either names a street type, or pairs a house-number
	// shape ("5-20", "12 # 34") with a known city.
	streetRE    = regexp.MustCompile(`(?i)\b(calle|carrera|cra|cll|avenida|av|diagonal|transversal)\b`)
	streetNumRE = regexp.MustCompile(`\d+\s*[a-z]?\s*[-#]?\s*\d+`)
	cityRE      = regexp.MustCompile(`(?i)\b(bogot[aá]|medell[ií]n|cali|barranquilla|cartagena|bucaramanga|pereira|manizales|c[uú]cuta|ibagu[eé]|soacha|ch[ií]a|envigado)\b`)
)

// Extract splits the message into clauses and picks the one answering the
// current step, while sweeping every clause for volunteered fields so later
// steps can be skipped. A field the flow already asked about is left to the
// step handler.
func Extract(text string, step Step) Extraction {
	clauses := splitClauses(text)
	ext := Extraction{Fields: make(map[string]string)}
	if len(clauses) == 0 {
		return ext
	}

	ext.Primary = pickPrimary(clauses, step)

	for _, c := range clauses {
		if step != StepName {
			if m := nameRE.FindStringSubmatch(c); m != nil && ext.Fields["name"] == "" {
				ext.Fields["name"] = strings.TrimSpace(m[1])
			}
		}
		if step != StepDate && !looksLikeAddress(c) {
			// House numbers like "5-20" would otherwise read as dates.
			if d := findDate(c); d != "" && ext.Fields["date"] == "" {
				ext.Fields["date"] = d
			}
		}
		if step != StepTimeSlot {
			if m := slotRE.FindString(c); m != "" && ext.Fields["timeSlot"] == "" {
				ext.Fields["timeSlot"] = normalizeSlot(m)
			}
		}
		if step != StepGiftee {
			if m := gifteeRE.FindStringSubmatch(c); m != nil && ext.Fields["giftee"] == "" {
				ext.Fields["giftee"] = strings.TrimSpace(m[1])
			}
		}
		if step != StepAddress {
			if looksLikeAddress(c) && ext.Fields["address"] == "" {
				ext.Fields["address"] = c
			}
		}
		if m := phoneRE.FindString(c); m != "" && ext.Fields["phone"] == "" {
			ext.Fields["phone"] = strings.TrimSpace(m)
		}
	}
	return ext
}

// looksLikeAddress covers both "Calle 10 # 5-20" and keyword-free forms like
// "#5-20 en Bogotá".
func looksLikeAddress(c string) bool {
	if streetRE.MatchString(c) {
		return true
	}
	return streetNumRE.MatchString(c) && cityRE.MatchString(c)
}

// pickPrimary prefers the clause that looks like an answer to the current
// step; otherwise the first clause wins.
func pickPrimary(clauses []string, step Step) string {
	switch step {
	case StepName:
		for _, c := range clauses {
			if nameRE.MatchString(c) {
				return c
			}
		}
	case StepDate:
		for _, c := range clauses {
			if findDate(c) != "" {
				return c
			}
		}
	case StepTimeSlot:
		for _, c := range clauses {
			if slotRE.MatchString(c) {
				return c
			}
		}
	case StepAddress:
		for _, c := range clauses {
			if looksLikeAddress(c) {
				return c
			}
		}
	}
	return clauses[0]
}

func findDate(s string) string {
	if m := dateRE.FindString(s); m != "" {
		return m
	}
	return longDateRE.FindString(s)
}

func normalizeSlot(s string) string {
	s = strings.ToLower(s)
	if s == "manana" {
		return "mañana"
	}
	return s
}

func splitClauses(text string) []string {
	var out []string
	for _, c := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '.' || r == ';' || r == ':' || r == '\n'
	}) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

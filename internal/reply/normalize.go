package reply

import "strings"

// alias maps a localized substring to its canonical English term.
// Order matters: multi-word forms must precede their prefixes
// (e.g. "سناب شات" before "سناب").
type alias struct {
	arabic  string
	english string
}

var aliases = []alias{
	{"واتساب", "whatsapp"},
	{"واتس اب", "whatsapp"},
	{"انستقرام", "instagram"},
	{"انستا", "instagram"},
	{"فيسبوك", "facebook"},
	{"فيس بوك", "facebook"},
	{"تيك توك", "tiktok"},
	{"تيكتوك", "tiktok"},
	{"تويتر", "twitter"},
	{"تليجرام", "telegram"},
	{"تلقرام", "telegram"},
	{"سناب شات", "snapchat"},
	{"سناب", "snapchat"},
	{"يوتيوب", "youtube"},
	{"ماسنجر", "messenger"},
	{"مسنجر", "messenger"},
	{"جيميل", "gmail"},
	{"كروم", "chrome"},
	{"خرائط جوجل", "google maps"},
	{"خرائط", "maps"},
	{"بابجي", "pubg"},
	{"فري فاير", "free fire"},
	{"كول اوف ديوتي", "call of duty"},
	{"نتفليكس", "netflix"},
	{"سبوتيفاي", "spotify"},
	{"لايت", "lite"},
	{"ماكس", "max"},
	{"برو", "pro"},
	{"بلس", "plus"},
	{"تطبيق", ""},
	{"برنامج", ""},
}

// Normalize turns a raw query into its canonical form: trimmed, lowercased,
// localized aliases replaced, whitespace collapsed. Idempotent.
func Normalize(text string) string {
	out := strings.ToLower(strings.TrimSpace(text))
	for _, a := range aliases {
		out = strings.ReplaceAll(out, a.arabic, a.english)
	}
	return strings.Join(strings.Fields(out), " ")
}

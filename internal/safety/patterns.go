package safety

import "regexp"

// Pattern categories are checked in a fixed priority order:
// injection > PII > abuse > code-injection > suspicious. The first deny-tier
// match short-circuits everything, including the model tier. The secrets
// category sits below all deny categories and yields warn.
type category struct {
	name     string
	verdict  Verdict
	patterns []*regexp.Regexp
}

var categories = []category{
	{
		name:    "prompt_injection",
		verdict: VerdictDeny,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
			regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|rules|guidelines)`),
			regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+)?(system\s+prompt|instructions|initial\s+prompt)`),
			regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak|god)\s*mode`),
			regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\s+(an?\s+)?(unrestricted|uncensored)`),
			regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+have\s+)?no\s+(restrictions|rules|guidelines)`),
		},
	},
	{
		name:    "pii",
		verdict: VerdictDeny,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),              // SSN-like
			regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),            // card-like
			regexp.MustCompile(`\b\+?\d{1,3}[ -]?\(?\d{2,3}\)?[ -]?\d{3,4}[ -]?\d{4}\b`), // phone-like
			regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),     // email
			regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),        // IPv4
		},
	},
	{
		name:    "abuse",
		verdict: VerdictDeny,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(fuck(ing|er)?|shit(ty)?|bitch|asshole|bastard)\b`),
			regexp.MustCompile(`(?i)\b(idiot[as]?|imbecil|estupid[oa]|pendej[oa]|puta?|mierda|carajo)\b`),
			regexp.MustCompile(`(?i)\b(kill|hurt|attack)\s+(you|yourself|someone)\b`),
		},
	},
	{
		name:    "code_injection",
		verdict: VerdictDeny,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(drop|truncate|delete)\s+(table|from|database)\b`),
			regexp.MustCompile(`(?i)\bunion\s+select\b`),
			regexp.MustCompile(`(?i);\s*--\s*$`),
			regexp.MustCompile(`(?i)<\s*script[\s>]`),
			regexp.MustCompile(`(?i)\b(eval|exec)\s*\(`),
			regexp.MustCompile(`(?i)\brm\s+-rf\b`),
			regexp.MustCompile("(?s)```.*(os\\.system|subprocess|import\\s+os)"),
		},
	},
	{
		name:    "suspicious",
		verdict: VerdictDeny,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`[A-Za-z0-9+/]{120,}={0,2}`),    // long base64-like blob
			regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){8,}`),    // hex-escaped payload
			regexp.MustCompile(`(?i)\b(curl|wget)\s+https?://\S+\s*\|\s*(sh|bash)\b`),
		},
	},
	{
		name:    "secrets",
		verdict: VerdictWarn,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(secret|admin|root)\s+(password|key|token|credentials?)\b`),
			regexp.MustCompile(`(?i)\b(api[_ ]?key|private\s+key|access\s+token)\b`),
			regexp.MustCompile(`(?i)\b(exploit|vulnerabilit(y|ies)|backdoor|0day|zero[- ]day)\b`),
		},
	},
}

// PatternVerdict runs the deterministic tier. It returns the verdict and the
// matching category name, or (VerdictNothing, "") when no pattern fires.
func PatternVerdict(input string) (Verdict, string) {
	return patternVerdict(input, "")
}

// OutputPatternVerdict screens generated replies. It skips the pii category:
// vehicle listings legitimately carry long digit runs (prices, mileage,
// years) that the card and phone patterns misread.
func OutputPatternVerdict(input string) (Verdict, string) {
	return patternVerdict(input, "pii")
}

func patternVerdict(input, skip string) (Verdict, string) {
	for _, cat := range categories {
		if cat.name == skip {
			continue
		}
		for _, re := range cat.patterns {
			if re.MatchString(input) {
				return cat.verdict, cat.name
			}
		}
	}
	return VerdictNothing, ""
}

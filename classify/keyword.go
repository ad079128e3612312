package classify

import (
	"regexp"
	"strings"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// keywordConfidenceDefault is spec.md §4.1 step 5c's default confidence
// when no pattern matches (classified CLARIFICATION).
const keywordConfidenceDefault = 0.3

// keywordConfidenceMatch is the confidence reported when a deterministic
// pattern matched. It sits below minAIConfidence (0.7), but the keyword
// path is only consulted when the AI path is unavailable or under-confident,
// so this never competes with it.
const keywordConfidenceMatch = 0.6

// categoryPattern pairs a classification with the compiled regex scoring
// it, ordered by priority — spec.md's "priority-scored" keyword classes:
// spam and gratitude are checked before the generic request class so an
// angry "спасибо, но нужна помощь срочно" doesn't get buried as a plain
// request.
type categoryPattern struct {
	class   model.Classification
	pattern *regexp.Regexp
}

// Keyword patterns are Russian-language, grounded on the sensitive-info
// regex-matcher idiom of ai/filter/sensitive.go (pre-compiled patterns,
// matched against normalized text, no per-call allocation).
var categoryPatterns = []categoryPattern{
	{
		class:   model.ClassificationSpam,
		pattern: regexp.MustCompile(`(?i)казино|выигрыш|займ\b|кредит под|заработ(ай|ок) (дома|онлайн)|криптовалют|подпишись|переходи по ссылке|бесплатно получ`),
	},
	{
		class:   model.ClassificationGratitude,
		pattern: regexp.MustCompile(`(?i)спасибо|благодарю|отлично,? все получилось|супер,? спасибо|признателен|признательна`),
	},
	{
		class:   model.ClassificationRequest,
		pattern: regexp.MustCompile(`(?i)нужна помощь|подскажите|помогите|вопрос по|проблема с|как (сделать|оформить|подать)|когда (будет|сдавать)|не могу (понять|разобраться)|срочно нужно|пожалуйста,? ответьте`),
	},
}

// KeywordClassifier is the deterministic fallback tier (spec.md §4.1 step
// 5c): Russian-language keyword patterns mapped to the four classes,
// priority-scored, defaulting to CLARIFICATION at confidence 0.3.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the stateless keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify scores normalized text against every category pattern and
// returns the first (highest-priority) category with at least one match;
// falls back to CLARIFICATION at 0.3 confidence when nothing matches.
func (k *KeywordClassifier) Classify(text string) (model.Classification, float64) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return model.ClassificationClarification, keywordConfidenceDefault
	}

	for _, cp := range categoryPatterns {
		if cp.pattern.MatchString(normalized) {
			return cp.class, keywordConfidenceMatch
		}
	}
	return model.ClassificationClarification, keywordConfidenceDefault
}

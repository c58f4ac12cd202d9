package classifier

import (
	"context"
	"strings"

	"golang.org/x/time/rate"
)

const keywordModelVersion = "keyword-v2"

// Severity thresholds over the 0..100 score.
const (
	toxicThreshold            = 70
	potentiallyToxicThreshold = 40
)

// Per-match weights. A single severe word already crosses the toxic
// threshold; mild words need company.
const (
	severeWeight = 70
	mildWeight   = 40
)

// DefaultSevereWords and DefaultMildWords form the built-in lexicon.
var (
	DefaultSevereWords = []string{"idiota", "estúpido", "imbécil", "mierda"}
	DefaultMildWords   = []string{"tonto"}
)

// KeywordClassifier is a lexicon scorer standing in for a real model.
// It is pure and deterministic, which the engine tests rely on.
type KeywordClassifier struct {
	severe []string
	mild   []string
}

func NewKeywordClassifier(severe, mild []string) *KeywordClassifier {
	if len(severe) == 0 {
		severe = DefaultSevereWords
	}
	if len(mild) == 0 {
		mild = DefaultMildWords
	}
	return &KeywordClassifier{severe: severe, mild: mild}
}

func (k *KeywordClassifier) Classify(_ context.Context, text string) Result {
	lower := strings.ToLower(text)

	score, found := 0, 0
	for _, w := range k.severe {
		if strings.Contains(lower, w) {
			score += severeWeight
			found++
		}
	}
	for _, w := range k.mild {
		if strings.Contains(lower, w) {
			score += mildWeight
			found++
		}
	}
	if score > 100 {
		score = 100
	}

	label := LabelNonToxic
	switch {
	case score >= toxicThreshold:
		label = LabelToxic
	case score >= potentiallyToxicThreshold:
		label = LabelPotentiallyToxic
	}

	return Result{Score: score, Label: label, WordsFound: found, ModelVersion: keywordModelVersion}
}

// rateLimited throttles calls to a wrapped classifier. A context that
// expires while waiting degrades to LabelError.
type rateLimited struct {
	inner Classifier
	lim   *rate.Limiter
}

func WithRateLimit(c Classifier, r rate.Limit, burst int) Classifier {
	return &rateLimited{inner: c, lim: rate.NewLimiter(r, burst)}
}

func (l *rateLimited) Classify(ctx context.Context, text string) Result {
	if err := l.lim.Wait(ctx); err != nil {
		return Result{Score: 0, Label: LabelError, ModelVersion: keywordModelVersion}
	}
	return l.inner.Classify(ctx, text)
}

package classifier

import "context"

// Label is the classification bucket attached to every analysis.
type Label string

const (
	LabelNonToxic         Label = "non-toxic"
	LabelPotentiallyToxic Label = "potentially-toxic"
	LabelToxic            Label = "toxic"
	LabelError            Label = "error"
)

// Offending reports whether the label counts as an offense for escalation.
func (l Label) Offending() bool {
	return l == LabelToxic || l == LabelPotentiallyToxic
}

// Result is what a classifier returns for a piece of text.
type Result struct {
	Score        int // 0..100
	Label        Label
	WordsFound   int
	ModelVersion string
}

// Classifier maps comment text to a toxicity result. Implementations never
// return an error; internal failures yield LabelError with score 0, which
// the engine records but never treats as an offense.
type Classifier interface {
	Classify(ctx context.Context, text string) Result
}

package model

// Orientation is the reordering relation of a phrase pair with respect to
// its neighbouring block.
type Orientation uint8

const (
	Monotonic Orientation = iota
	Swap
	DiscontinuousLeft
	DiscontinuousRight
	NoOrientation

	orientationCount
)

var orientationNames = [...]string{"mono", "swap", "dleft", "dright", "none"}

func (o Orientation) String() string {
	if o >= orientationCount {
		return "invalid"
	}
	return orientationNames[o]
}

// Orientations holds forward and backward orientation histograms.
type Orientations struct {
	Forward  [orientationCount]uint32 `json:"forward"`
	Backward [orientationCount]uint32 `json:"backward"`
}

// AddForward counts one forward observation.
func (o *Orientations) AddForward(or Orientation) {
	o.Forward[or]++
}

// AddBackward counts one backward observation.
func (o *Orientations) AddBackward(or Orientation) {
	o.Backward[or]++
}

// Score slots of a translation option.
const (
	ForwardProbabilityScore = iota
	BackwardProbabilityScore
	ForwardLexicalScore
	BackwardLexicalScore

	ScoreCount
)

// TranslationOption is a scored candidate translation of a source phrase.
type TranslationOption struct {
	TargetPhrase []Wid               `json:"target"`
	Alignment    Alignment           `json:"alignment"`
	Orientations Orientations        `json:"orientations"`
	Count        int                 `json:"count"`
	Scores       [ScoreCount]float32 `json:"scores"`
}

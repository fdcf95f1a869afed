// Package classifier implements the gesture classification model: a label
// encoder, a feature scaler and a small multi-layer perceptron trained with
// Adam, plus the on-disk model artifact.
package classifier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// ErrUnknownLabel is returned when encoding a label the encoder was not fitted on.
var ErrUnknownLabel = errors.New("unknown label")

// LabelEncoder maps class names to dense integer indices in sorted order.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// FitLabelEncoder builds an encoder over the distinct labels.
func FitLabelEncoder(labels []string) *LabelEncoder {
	classes := lo.Uniq(labels)
	sort.Strings(classes)
	enc, _ := NewLabelEncoder(classes)
	return enc
}

// NewLabelEncoder restores an encoder from its class list, which must be
// sorted and free of duplicates.
func NewLabelEncoder(classes []string) (*LabelEncoder, error) {
	if !sort.StringsAreSorted(classes) {
		return nil, fmt.Errorf("classes are not sorted: %v", classes)
	}
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate class %q", c)
		}
		index[c] = i
	}
	return &LabelEncoder{classes: append([]string(nil), classes...), index: index}, nil
}

// Len returns the number of classes.
func (e *LabelEncoder) Len() int { return len(e.classes) }

// Classes returns a copy of the class names in index order.
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// Encode returns the index of label.
func (e *LabelEncoder) Encode(label string) (int, error) {
	i, ok := e.index[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	return i, nil
}

// EncodeAll encodes every label in order.
func (e *LabelEncoder) EncodeAll(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		idx, err := e.Encode(l)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

// Decode returns the class name for index i.
func (e *LabelEncoder) Decode(i int) (string, error) {
	if i < 0 || i >= len(e.classes) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", i, len(e.classes))
	}
	return e.classes[i], nil
}

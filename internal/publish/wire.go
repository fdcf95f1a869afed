// Package publish sends recognition results to downstream consumers as UDP
// datagrams of the form "<label>|<confidence>".
package publish

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Separator splits the label from the confidence on the wire.
const Separator = '|'

// ErrMalformed is returned by Decode for payloads that are not label|confidence.
var ErrMalformed = errors.New("malformed result datagram")

// Encode formats a result as "label|confidence" with the shortest decimal
// representation that round-trips the confidence. No terminator is added.
func Encode(label string, confidence float64) []byte {
	buf := make([]byte, 0, len(label)+24)
	buf = append(buf, label...)
	buf = append(buf, Separator)
	return strconv.AppendFloat(buf, confidence, 'f', -1, 64)
}

// Decode parses a datagram produced by Encode. The label may itself contain
// the separator; the confidence follows the last one. A comma is accepted as
// decimal separator and the confidence is clamped to [0, 100].
func Decode(payload []byte) (string, float64, error) {
	i := bytes.LastIndexByte(payload, Separator)
	if i < 0 {
		return "", 0, fmt.Errorf("%w: no separator in %q", ErrMalformed, payload)
	}

	label := string(payload[:i])
	raw := strings.TrimSpace(strings.ReplaceAll(string(payload[i+1:]), ",", "."))
	confidence, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: confidence %q: %w", ErrMalformed, raw, err)
	}
	if math.IsNaN(confidence) {
		return "", 0, fmt.Errorf("%w: confidence is NaN", ErrMalformed)
	}

	return label, min(max(confidence, 0), 100), nil
}

// Package reference generates the public handles used in share links and
// settlement correlation: story reference numbers and transaction references.
package reference

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"

	// StoryPrefix marks a story reference number, e.g. RN-4KD92QX1.
	StoryPrefix = "RN"

	storyLetterCount = 4
	storyDigitCount  = 4

	transactionLetterCount = 7
	transactionDigitCount  = 7

	noiseLength = 6
)

// Story returns a fresh story reference number: the RN prefix followed by a
// shuffled mix of four letters and four digits.
func Story() (string, error) {
	body, err := randomString(letters, storyLetterCount)
	if err != nil {
		return "", err
	}
	tail, err := randomString(digits, storyDigitCount)
	if err != nil {
		return "", err
	}
	shuffled, err := shuffle(body + tail)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", StoryPrefix, shuffled), nil
}

// Transaction returns a fresh transaction reference: seven letters followed
// by seven digits, unshuffled so the two halves stay visually distinct.
func Transaction() (string, error) {
	head, err := randomString(letters, transactionLetterCount)
	if err != nil {
		return "", err
	}
	tail, err := randomString(digits, transactionDigitCount)
	if err != nil {
		return "", err
	}
	return head + tail, nil
}

// WithNoise prepends a random segment to a story reference so the value
// embedded in download tokens never round-trips as a bare reference.
func WithNoise(storyReference string) (string, error) {
	noise, err := randomString(strings.ToLower(letters)+digits, noiseLength)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", noise, storyReference), nil
}

// StripNoise drops the leading noise segment added by WithNoise, returning
// the embedded story reference. It fails on values without a noise segment.
func StripNoise(value string) (string, error) {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed noisy reference %q", value)
	}
	return parts[1], nil
}

func randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating reference: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

func shuffle(value string) (string, error) {
	runes := []byte(value)
	for i := len(runes) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("shuffling reference: %w", err)
		}
		runes[i], runes[j.Int64()] = runes[j.Int64()], runes[i]
	}
	return string(runes), nil
}

// Package evidence validates proof files attached to grievances. The same
// rules apply to the bot proof step and to web submissions.
package evidence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxSize is the largest accepted evidence file in bytes.
const MaxSize = 10 << 20

var (
	ErrEmpty       = errors.New("evidence: file is empty")
	ErrTooLarge    = errors.New("evidence: file exceeds 10 MB")
	ErrUnsupported = errors.New("evidence: unsupported file type")
)

type class struct {
	label string
	mime  string
}

// accepted is ordered for display.
var accepted = []class{
	{"JPEG", "image/jpeg"},
	{"PNG", "image/png"},
	{"GIF", "image/gif"},
	{"WEBP", "image/webp"},
	{"PDF", "application/pdf"},
	{"DOC", "application/msword"},
	{"DOCX", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
}

// Validate sniffs data and returns its canonical content type. The declared
// file name is informational only; the bytes decide.
func Validate(data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	detected := mimetype.Detect(data)
	for _, c := range accepted {
		if detected.Is(c.mime) {
			return c.mime, nil
		}
	}
	return "", fmt.Errorf("%w: %q detected as %s", ErrUnsupported, name, detected.String())
}

// CheckDeclaredSize rejects a file whose advertised size is over the cap
// before any bytes are fetched.
func CheckDeclaredSize(size int64) error {
	if size > MaxSize {
		return ErrTooLarge
	}
	return nil
}

// AcceptedTypes lists the accepted file kinds for user-facing prompts.
func AcceptedTypes() string {
	labels := make([]string, 0, len(accepted))
	for _, c := range accepted {
		labels = append(labels, c.label)
	}
	return strings.Join(labels, ", ")
}

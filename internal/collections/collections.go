// Package collections maps projects to vector collection names.
package collections

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Prefix is prepended to every project collection name.
const Prefix = "Collection_"

// ErrInvalidName is returned for names a vector backend would reject.
var ErrInvalidName = errors.New("invalid collection name")

// Letters and digits from any script, so every id store.ValidateProjectID
// accepts maps to a usable collection.
var namePattern = regexp.MustCompile(`^[\p{L}\p{N}_-]{1,255}$`)

// NameFor returns the collection that holds a project's vectors. It is the
// only join key between stored chunks and the vector store.
func NameFor(projectID string) string {
	return Prefix + strings.TrimSpace(projectID)
}

// Validate accepts 1 to 255 Unicode letters, digits, '_' and '-'.
func Validate(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

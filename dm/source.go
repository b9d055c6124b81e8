package dm

import (
	"fmt"
	"strings"

	"github.com/joshuapare/flashdm/pkg/types"
)

// SourceType selects where Install takes a package from.
type SourceType int

const (
	SourceInMemory SourceType = iota
	SourceBlob
	SourceBuiltIn
	SourceCLI
)

var sourceNames = [...]string{"in_memory", "blob", "builtin", "cli"}

func (s SourceType) String() string {
	if s >= 0 && int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// ParseSource accepts the names String produces.
func ParseSource(s string) (SourceType, error) {
	for i, n := range sourceNames {
		if strings.EqualFold(s, n) {
			return SourceType(i), nil
		}
	}
	return 0, types.Errorf(types.ErrKindArgument, "unknown package source %q", s)
}

// Address is a flash address where zero means none.
type Address uint32

// NoAddress lets a blob install pick its own destination.
const NoAddress Address = 0

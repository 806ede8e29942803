package metadata

import "strings"

// CreateFlags indicate specific metadata behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that the metadata will not be synchronized
	// internally. The consumer must guarantee that it is used from only one goroutine at a
	// time or is synchronized by some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating a BestFitBlockMetadata. It is
// valid to leave all fields blank.
type CreateOptions struct {
	// Flags indicates specific metadata behaviors to activate or deactivate
	Flags CreateFlags
}

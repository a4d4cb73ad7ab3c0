package relsync

import "regexp"

// BuildClass describes if a Jenkins build carries a human assigned release
// name or only its default numeric display name.
type BuildClass int

const (
	// Unlabelled is a build with a default display name like "#123".
	Unlabelled BuildClass = iota
	// Labelled is a build whose display name was set to a release name.
	Labelled
)

func (c BuildClass) String() string {
	switch c {
	case Unlabelled:
		return "unlabelled"
	case Labelled:
		return "labelled"
	default:
		return "undefined"
	}
}

var buildNumberRe = regexp.MustCompile(`^#\d*$`)

// Classify returns Unlabelled if displayName is a default Jenkins build
// number like "#123", Labelled otherwise.
func Classify(displayName string) BuildClass {
	if buildNumberRe.MatchString(displayName) {
		return Unlabelled
	}

	return Labelled
}

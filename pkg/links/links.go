// Package links classifies raw t.me share links into transfer targets.
//
// A link is matched against an ordered list of (pattern, extractor) pairs.
// Order matters: the generic plain pattern is a syntactic subset of the
// comment, thread, single, and story shapes, so the more specific shapes
// are evaluated first. Each shape has a private-channel variant where the
// numeric chat id is prefixed with the -100 channel marker.
package links

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/mvalvano/telegrab/pkg/telegram"
)

// ErrUnrecognizedLink indicates the input matched none of the known link
// shapes. It is a classification failure, not a fatal error.
var ErrUnrecognizedLink = errors.New("unrecognized link")

// AccessMode describes how the target must be accessed.
type AccessMode int

const (
	ModePublic AccessMode = iota
	ModePrivate
	ModeStory
)

func (m AccessMode) String() string {
	switch m {
	case ModePublic:
		return "public"
	case ModePrivate:
		return "private"
	case ModeStory:
		return "story"
	default:
		return "unknown"
	}
}

// Variant is the link shape the target was extracted from.
type Variant int

const (
	VariantPlain Variant = iota
	VariantComment
	VariantThread
	VariantSingle
)

func (v Variant) String() string {
	switch v {
	case VariantPlain:
		return "plain"
	case VariantComment:
		return "comment"
	case VariantThread:
		return "thread"
	case VariantSingle:
		return "single"
	default:
		return "unknown"
	}
}

// Target is the classified form of a share link.
type Target struct {
	Scope     telegram.Scope
	MessageID int
	Mode      AccessMode
	Variant   Variant
}

// pattern pairs a compiled expression with its extractor. Extractors
// receive the submatches (index 0 is the full match).
type pattern struct {
	re      *regexp.Regexp
	extract func(groups []string) Target
}

// chanIDOffset is the marker prefixed to private-channel numeric ids.
const chanIDOffset = "-100"

func privateScope(digits string) telegram.Scope {
	id, _ := strconv.ParseInt(chanIDOffset+digits, 10, 64)
	return telegram.PrivateScope(id)
}

func mustInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// patterns is evaluated in order; most specific shapes first. The trailing
// plain patterns would otherwise swallow every link.
var patterns = []pattern{
	{regexp.MustCompile(`t\.me/c/(\d+)/s/(\d+)`), func(g []string) Target {
		return Target{Scope: privateScope(g[1]), MessageID: mustInt(g[2]), Mode: ModeStory, Variant: VariantPlain}
	}},
	{regexp.MustCompile(`t\.me/([^/]+)/s/(\d+)`), func(g []string) Target {
		return Target{Scope: telegram.PublicScope(g[1]), MessageID: mustInt(g[2]), Mode: ModeStory, Variant: VariantPlain}
	}},
	{regexp.MustCompile(`t\.me/c/(\d+)/(\d+)\?comment=(\d+)`), func(g []string) Target {
		return Target{Scope: privateScope(g[1]), MessageID: mustInt(g[3]), Mode: ModePrivate, Variant: VariantComment}
	}},
	{regexp.MustCompile(`t\.me/([^/]+)/(\d+)\?comment=(\d+)`), func(g []string) Target {
		return Target{Scope: telegram.PublicScope(g[1]), MessageID: mustInt(g[3]), Mode: ModePublic, Variant: VariantComment}
	}},
	{regexp.MustCompile(`t\.me/c/(\d+)/(\d+)\?thread=(\d+)`), func(g []string) Target {
		return Target{Scope: privateScope(g[1]), MessageID: mustInt(g[2]), Mode: ModePrivate, Variant: VariantThread}
	}},
	{regexp.MustCompile(`t\.me/([^/]+)/(\d+)\?thread=(\d+)`), func(g []string) Target {
		return Target{Scope: telegram.PublicScope(g[1]), MessageID: mustInt(g[2]), Mode: ModePublic, Variant: VariantThread}
	}},
	{regexp.MustCompile(`t\.me/c/(\d+)/(\d+)\?single`), func(g []string) Target {
		return Target{Scope: privateScope(g[1]), MessageID: mustInt(g[2]), Mode: ModePrivate, Variant: VariantSingle}
	}},
	{regexp.MustCompile(`t\.me/([^/]+)/(\d+)\?single`), func(g []string) Target {
		return Target{Scope: telegram.PublicScope(g[1]), MessageID: mustInt(g[2]), Mode: ModePublic, Variant: VariantSingle}
	}},
	// Topic links carry the message id in the third segment.
	{regexp.MustCompile(`t\.me/c/(\d+)/(\d+)/(\d+)`), func(g []string) Target {
		return Target{Scope: privateScope(g[1]), MessageID: mustInt(g[3]), Mode: ModePrivate, Variant: VariantThread}
	}},
	{regexp.MustCompile(`t\.me/c/(\d+)/(\d+)`), func(g []string) Target {
		return Target{Scope: privateScope(g[1]), MessageID: mustInt(g[2]), Mode: ModePrivate, Variant: VariantPlain}
	}},
	{regexp.MustCompile(`t\.me/([^/]+)/(\d+)`), func(g []string) Target {
		return Target{Scope: telegram.PublicScope(g[1]), MessageID: mustInt(g[2]), Mode: ModePublic, Variant: VariantPlain}
	}},
}

// Resolve classifies a raw share link.
func Resolve(link string) (*Target, error) {
	for _, p := range patterns {
		if g := p.re.FindStringSubmatch(link); g != nil {
			t := p.extract(g)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognizedLink, link)
}

// MessageRange extracts the scope and message id of a link for batch range
// computation. Both endpoints of a batch must resolve and share a scope.
func MessageRange(startLink, endLink string) (telegram.Scope, int, int, error) {
	start, err := Resolve(startLink)
	if err != nil {
		return telegram.Scope{}, 0, 0, err
	}
	end, err := Resolve(endLink)
	if err != nil {
		return telegram.Scope{}, 0, 0, err
	}
	if start.Scope != end.Scope {
		return telegram.Scope{}, 0, 0, errors.New("batch links point at different scopes")
	}
	lo, hi := start.MessageID, end.MessageID
	if lo > hi {
		lo, hi = hi, lo
	}
	return start.Scope, lo, hi, nil
}

package attachment

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/opd-ai/deliverycore/limits"
)

const (
	// Scheme is the URI scheme of attachment references.
	Scheme = "content"

	// PathPrefix is the first path segment of references built by Locator.
	PathPrefix = "part"
)

// ID identifies a stored attachment.
type ID struct {
	RowID    int64 `json:"row_id"`
	UniqueID int64 `json:"unique_id"`
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return fmt.Sprintf("%d-%d", id.UniqueID, id.RowID)
}

// Locator addresses one attachment. Extension holds the optional trailing
// display name (for example "image.jpg") and is empty when absent.
type Locator struct {
	RowID     int64
	UniqueID  int64
	Extension string
}

// ID returns the store identifier of the attachment.
func (l Locator) ID() ID {
	return ID{RowID: l.RowID, UniqueID: l.UniqueID}
}

// HasExtension reports whether the reference carried a display name.
func (l Locator) HasExtension() bool {
	return l.Extension != ""
}

// URI builds a reference without the display name.
func (l Locator) URI(authority string) string {
	u := url.URL{
		Scheme: Scheme,
		Host:   authority,
		Path:   "/" + PathPrefix + "/" + strconv.FormatInt(l.UniqueID, 10) + "/" + strconv.FormatInt(l.RowID, 10),
	}
	return u.String()
}

// URIWithExtension builds a reference including the display name, falling
// back to URI when there is none.
func (l Locator) URIWithExtension(authority string) string {
	base := l.URI(authority)
	if !l.HasExtension() {
		return base
	}
	return base + "/" + url.PathEscape(l.Extension)
}

// ParseLocator parses an opaque attachment reference. The path must consist
// of a prefix segment, a numeric unique id, a numeric row id and optionally
// a display name. Segments are URL-unescaped before validation.
func ParseLocator(ref string) (Locator, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}

	raw := strings.TrimPrefix(u.EscapedPath(), "/")
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty path", ErrMalformedReference)
	}

	parts := strings.Split(raw, "/")
	if len(parts) != 3 && len(parts) != 4 {
		return Locator{}, fmt.Errorf("%w: expected 3 or 4 path segments, got %d", ErrMalformedReference, len(parts))
	}

	segs := make([]string, len(parts))
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			return Locator{}, fmt.Errorf("%w: segment %d: %v", ErrMalformedReference, i, err)
		}
		segs[i] = s
	}

	if segs[0] == "" {
		return Locator{}, fmt.Errorf("%w: missing prefix segment", ErrMalformedReference)
	}

	uniqueID, err := parseID(segs[1])
	if err != nil {
		return Locator{}, fmt.Errorf("%w: unique id: %v", ErrMalformedReference, err)
	}
	rowID, err := parseID(segs[2])
	if err != nil {
		return Locator{}, fmt.Errorf("%w: row id: %v", ErrMalformedReference, err)
	}

	loc := Locator{RowID: rowID, UniqueID: uniqueID}
	if len(segs) == 4 {
		if err := limits.ValidateDisplayName(segs[3]); err != nil {
			return Locator{}, fmt.Errorf("%w: %v", ErrMalformedReference, err)
		}
		loc.Extension = segs[3]
	}

	return loc, nil
}

// parseID accepts only unsigned decimal digits.
func parseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%q is not numeric", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

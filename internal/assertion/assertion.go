package assertion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// TypeModel is the value of the type header for model assertions.
const TypeModel = "model"

// requiredHeaders must be present in every model assertion.
var requiredHeaders = []string{"type", "authority-id", "series", "brand-id", "model"}

// headerLine matches the start of a header: a lowercase key followed by a colon.
var headerLine = regexp.MustCompile(`^([a-z][a-z0-9-]*):(?:\s(.*))?$`)

// Model holds the headers of a model assertion together with its raw bytes.
type Model struct {
	// Headers maps scalar header names to their values.
	Headers map[string]string

	// Lists maps list-valued header names to their items.
	// For the "snaps" header of newer models the items are the snap names.
	Lists map[string][]string

	// Raw is the complete file content, signature included.
	Raw []byte
}

// Load reads and parses the model assertion at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided model path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to read model assertion: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse parses a model assertion document.
// Leading blank lines are ignored. The header block ends at the first blank
// line; whatever follows is treated as body and signature.
func Parse(data []byte) (*Model, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimLeft(text, "\n")

	block, rest, _ := strings.Cut(text, "\n\n")
	if startsWithHeader(rest) {
		return nil, ErrMultipleRecords
	}

	m := &Model{
		Headers: make(map[string]string),
		Lists:   make(map[string][]string),
		Raw:     data,
	}

	var current string
	for _, line := range strings.Split(block, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Indented lines continue the previous header.
		if line[0] == ' ' || line[0] == '\t' {
			if current == "" {
				return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
			}
			if item, ok := listItem(line); ok {
				m.Lists[current] = append(m.Lists[current], item)
			}
			continue
		}

		match := headerLine.FindStringSubmatch(line)
		if match == nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		current = match[1]
		value := strings.TrimSpace(match[2])
		if value != "" {
			m.Headers[current] = value
		}
	}

	if len(m.Headers) == 0 && len(m.Lists) == 0 {
		return nil, ErrNoHeaders
	}

	for _, h := range requiredHeaders {
		if _, ok := m.Headers[h]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingHeader, h)
		}
	}
	if m.Type() != TypeModel {
		return nil, fmt.Errorf("%w: type is %q", ErrNotModel, m.Type())
	}

	return m, nil
}

// listItem extracts an item from an indented continuation line.
// It understands "- value" items and the "name: value" key of map items.
func listItem(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if v, ok := strings.CutPrefix(trimmed, "- "); ok {
		v = strings.TrimSpace(v)
		if name, ok := strings.CutPrefix(v, "name:"); ok {
			return strings.TrimSpace(name), true
		}
		return v, v != ""
	}
	if name, ok := strings.CutPrefix(trimmed, "name:"); ok {
		return strings.TrimSpace(name), true
	}
	return "", false
}

// startsWithHeader reports whether the first non-empty line of s looks like
// the header line of another record. Signatures are base64 and never do.
func startsWithHeader(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return headerLine.MatchString(line)
	}
	return false
}

// Header returns the scalar header with the given name.
func (m *Model) Header(name string) string {
	return m.Headers[name]
}

// Type returns the type header.
func (m *Model) Type() string { return m.Headers["type"] }

// AuthorityID returns the authority-id header.
func (m *Model) AuthorityID() string { return m.Headers["authority-id"] }

// Series returns the series header.
func (m *Model) Series() string { return m.Headers["series"] }

// BrandID returns the brand-id header.
func (m *Model) BrandID() string { return m.Headers["brand-id"] }

// Name returns the model header.
func (m *Model) Name() string { return m.Headers["model"] }

// Architecture returns the architecture header.
func (m *Model) Architecture() string { return m.Headers["architecture"] }

// Kernel returns the kernel header.
func (m *Model) Kernel() string { return m.Headers["kernel"] }

// Gadget returns the gadget header.
func (m *Model) Gadget() string { return m.Headers["gadget"] }

// RequiredSnaps returns the required snaps. Both the list form and the
// older comma separated scalar form are accepted.
func (m *Model) RequiredSnaps() []string {
	if items := m.Lists["required-snaps"]; len(items) > 0 {
		return items
	}
	v := m.Headers["required-snaps"]
	if v == "" {
		return nil
	}
	var snaps []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			snaps = append(snaps, s)
		}
	}
	return snaps
}

// Snaps returns the snap names listed under the snaps header of newer models.
func (m *Model) Snaps() []string {
	return m.Lists["snaps"]
}

// Digest returns the hex SHA-256 of the raw model bytes followed by the
// channel name.
func (m *Model) Digest(channel string) string {
	return Digest(m.Raw, channel)
}

// Digest returns the hex SHA-256 of data followed by channel, exactly as
// given. It names default fixture archives.
func Digest(data []byte, channel string) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(channel))
	return hex.EncodeToString(h.Sum(nil))
}

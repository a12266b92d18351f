// Package control parses Debian-style stanza control files: the package
// index, the installed-status database, and the dependency mini-language
// embedded in Depends/Conflicts/Provides/Replaces fields.
package control

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/mvossen/opkgo/internal/pkgerr"
	"github.com/mvossen/opkgo/internal/version"
)

// FieldMask controls which stanza fields are materialized into a Stanza.
// Masked-out fields are scanned past without being stored.
type FieldMask uint32

const (
	FieldPackage FieldMask = 1 << iota
	FieldVersion
	FieldArchitecture
	FieldMaintainer
	FieldSection
	FieldPriority
	FieldSource
	FieldFilename
	FieldSize
	FieldInstalledSize
	FieldInstalledTime
	FieldMD5Sum
	FieldSHA256Sum
	FieldDescription
	FieldTags
	FieldDepends
	FieldPreDepends
	FieldRecommends
	FieldSuggests
	FieldConflicts
	FieldProvides
	FieldReplaces
	FieldConffiles
	FieldStatus
	FieldEssential
	FieldAutoInstalled
)

// AllFields retains every recognized field; this is the default for a
// freshly-installed status database read and for the formatter's round-trip
// guarantee.
const AllFields = FieldPackage | FieldVersion | FieldArchitecture | FieldMaintainer |
	FieldSection | FieldPriority | FieldSource | FieldFilename | FieldSize |
	FieldInstalledSize | FieldInstalledTime | FieldMD5Sum | FieldSHA256Sum |
	FieldDescription | FieldTags | FieldDepends | FieldPreDepends | FieldRecommends |
	FieldSuggests | FieldConflicts | FieldProvides | FieldReplaces | FieldConffiles |
	FieldStatus | FieldEssential | FieldAutoInstalled

// DependKind classifies a compound dependency.
type DependKind int

const (
	PreDepend DependKind = iota
	Depend
	Recommend
	Suggest
	Conflict
	Greedy
)

func (k DependKind) String() string {
	switch k {
	case PreDepend:
		return "Pre-Depends"
	case Depend:
		return "Depends"
	case Recommend:
		return "Recommends"
	case Suggest:
		return "Suggests"
	case Conflict:
		return "Conflicts"
	case Greedy:
		return "Depends"
	default:
		return "Depends"
	}
}

// Atom is one alternative within a compound dependency.
type Atom struct {
	Name       string
	Constraint version.Constraint
	Version    string
}

// CompoundDepend is an OR-group of atoms sharing a dependency kind.
type CompoundDepend struct {
	Kind  DependKind
	Atoms []Atom
}

// Conffile is a declared configuration file and its recorded digest.
type Conffile struct {
	Path   string
	Digest string
}

// StateWant is the user's declared intent for a package (dpkg "want").
type StateWant int

const (
	WantUnknown StateWant = iota
	WantInstall
	WantDeinstall
	WantPurge
)

func parseStateWant(s string) StateWant {
	switch strings.ToLower(s) {
	case "install":
		return WantInstall
	case "deinstall":
		return WantDeinstall
	case "purge":
		return WantPurge
	default:
		return WantUnknown
	}
}

func (w StateWant) String() string {
	switch w {
	case WantInstall:
		return "install"
	case WantDeinstall:
		return "deinstall"
	case WantPurge:
		return "purge"
	default:
		return "unknown"
	}
}

// StateFlag is a bitset of sticky, orthogonal package flags.
type StateFlag uint16

const (
	FlagReinstreq StateFlag = 1 << iota
	FlagHold
	FlagReplace
	FlagNoPrune
	FlagPrefer
	FlagObsolete
	FlagUser
	FlagFilelistChanged
	FlagNeedDetail
)

var flagNames = [...]struct {
	bit  StateFlag
	name string
}{
	{FlagReinstreq, "reinstreq"},
	{FlagHold, "hold"},
	{FlagReplace, "replace"},
	{FlagNoPrune, "noprune"},
	{FlagPrefer, "prefer"},
	{FlagObsolete, "obsolete"},
	{FlagUser, "user"},
	{FlagFilelistChanged, "filelist-changed"},
	{FlagNeedDetail, "need-detail"},
}

func parseStateFlag(s string) StateFlag {
	var f StateFlag
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		for _, fn := range flagNames {
			if tok == fn.name {
				f |= fn.bit
			}
		}
	}
	return f
}

// String renders the flag set the way the formatter emits it: a
// comma-joined list of set flag names, or "ok" if none are set.
func (f StateFlag) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "ok"
	}
	return strings.Join(names, ",")
}

// StateStatus is the lifecycle stage of a concrete package.
type StateStatus int

const (
	NotInstalled StateStatus = iota
	Unpacked
	HalfConfigured
	Installed
	HalfInstalled
	ConfigFiles
	PostInstFailed
	RemovalFailed
)

var statusNames = map[string]StateStatus{
	"not-installed":    NotInstalled,
	"unpacked":         Unpacked,
	"half-configured":  HalfConfigured,
	"installed":        Installed,
	"half-installed":   HalfInstalled,
	"config-files":     ConfigFiles,
	"postinst-failed":  PostInstFailed,
	"removal-failed":   RemovalFailed,
}

func parseStateStatus(s string) StateStatus {
	if v, ok := statusNames[strings.ToLower(s)]; ok {
		return v
	}
	return NotInstalled
}

func (s StateStatus) String() string {
	for name, v := range statusNames {
		if v == s {
			return name
		}
	}
	return "not-installed"
}

// Stanza is a single parsed control-file record, the raw output of C2 fed
// into the package database.
type Stanza struct {
	Name           string
	Version        version.Version
	Architecture   string
	Maintainer     string
	Section        string
	Priority       string
	Source         string
	Filename       string
	Size           uint64
	InstalledSize  uint64
	InstalledTime  uint64
	MD5Sum         string
	SHA256Sum      string
	Description    string
	Tags           string
	Depends        []CompoundDepend
	Conflicts      []CompoundDepend
	Provides       []string
	Replaces       []string
	Conffiles      []Conffile
	AutoInstalled  bool
	Essential      bool
	StateWant      StateWant
	StateFlag      StateFlag
	StateStatus    StateStatus
}

// MalformedError reports a stanza that could not be materialized into a
// Stanza record. The reader discards the stanza and moves on; callers
// typically log this and continue calling Next.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed stanza: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error { return pkgerr.Malformed }

// Reader tokenizes a byte stream of one or more stanzas separated by blank
// lines.
type Reader struct {
	scanner *bufio.Scanner
	mask    FieldMask
}

// NewReader wraps r, materializing only the fields set in mask.
func NewReader(r io.Reader, mask FieldMask) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: sc, mask: mask}
}

// Next reads the next stanza. It returns io.EOF once the stream is
// exhausted. A stanza missing its Package field, or whose Status line does
// not have three tokens, is reported as a *MalformedError; the caller should
// keep calling Next to read the remaining stanzas.
func (r *Reader) Next() (*Stanza, error) {
	var (
		st                 *Stanza
		readingDescription bool
		readingConffiles   bool
		description        strings.Builder
		malformed          string
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if st == nil {
				continue
			}
			break
		}

		if st == nil {
			st = &Stanza{}
		}

		if line[0] == ' ' || line[0] == '\t' {
			cont := strings.TrimLeft(line, " \t")
			switch {
			case readingDescription:
				description.WriteByte('\n')
				description.WriteString(cont)
			case readingConffiles:
				if cf, err := ParseConffiles(cont); err == nil {
					st.Conffiles = append(st.Conffiles, cf)
				}
			}
			continue
		}

		if readingDescription {
			st.Description = description.String()
		}
		readingDescription = false
		readingConffiles = false

		name, value, ok := splitField(line)
		if !ok {
			continue
		}

		switch strings.ToLower(name) {
		case "package":
			if r.mask&FieldPackage != 0 {
				st.Name = value
			}
		case "version":
			if r.mask&FieldVersion != 0 {
				v, _ := version.Parse(value)
				st.Version = v
			}
		case "architecture":
			if r.mask&FieldArchitecture != 0 {
				st.Architecture = strings.TrimSpace(value)
			}
		case "maintainer":
			if r.mask&FieldMaintainer != 0 {
				st.Maintainer = value
			}
		case "section":
			if r.mask&FieldSection != 0 {
				st.Section = value
			}
		case "priority":
			if r.mask&FieldPriority != 0 {
				st.Priority = value
			}
		case "source":
			if r.mask&FieldSource != 0 {
				st.Source = value
			}
		case "filename":
			if r.mask&FieldFilename != 0 {
				st.Filename = value
			}
		case "size":
			if r.mask&FieldSize != 0 {
				st.Size, _ = strconv.ParseUint(strings.TrimSpace(value), 10, 64)
			}
		case "installed-size":
			if r.mask&FieldInstalledSize != 0 {
				st.InstalledSize, _ = strconv.ParseUint(strings.TrimSpace(value), 10, 64)
			}
		case "installed-time":
			if r.mask&FieldInstalledTime != 0 {
				st.InstalledTime, _ = strconv.ParseUint(strings.TrimSpace(value), 10, 64)
			}
		case "md5sum":
			if r.mask&FieldMD5Sum != 0 {
				st.MD5Sum = strings.TrimSpace(value)
			}
		case "sha256sum":
			if r.mask&FieldSHA256Sum != 0 {
				st.SHA256Sum = strings.TrimSpace(value)
			}
		case "description":
			if r.mask&FieldDescription != 0 {
				description.Reset()
				description.WriteString(value)
				readingDescription = true
			}
		case "tags":
			if r.mask&FieldTags != 0 {
				st.Tags = value
			}
		case "depends":
			if r.mask&FieldDepends != 0 {
				st.Depends = append(st.Depends, ParseDepList(value, Depend)...)
			}
		case "pre-depends":
			if r.mask&FieldPreDepends != 0 {
				st.Depends = append(st.Depends, ParseDepList(value, PreDepend)...)
			}
		case "recommends":
			if r.mask&FieldRecommends != 0 {
				st.Depends = append(st.Depends, ParseDepList(value, Recommend)...)
			}
		case "suggests":
			if r.mask&FieldSuggests != 0 {
				st.Depends = append(st.Depends, ParseDepList(value, Suggest)...)
			}
		case "conflicts":
			if r.mask&FieldConflicts != 0 {
				st.Conflicts = append(st.Conflicts, ParseDepList(value, Conflict)...)
			}
		case "provides":
			if r.mask&FieldProvides != 0 {
				st.Provides = append(st.Provides, splitListTokens(value)...)
			}
		case "replaces":
			if r.mask&FieldReplaces != 0 {
				st.Replaces = ParseReplaces(value)
			}
		case "conffiles":
			if r.mask&FieldConffiles != 0 {
				readingConffiles = true
			}
		case "status":
			if r.mask&FieldStatus != 0 {
				want, flag, status, err := ParseStatus(value)
				if err != nil {
					if malformed == "" {
						malformed = err.Error()
					}
				} else {
					st.StateWant, st.StateFlag, st.StateStatus = want, flag, status
				}
			}
		case "essential":
			if r.mask&FieldEssential != 0 {
				st.Essential = strings.EqualFold(strings.TrimSpace(value), "yes")
			}
		case "auto-installed":
			if r.mask&FieldAutoInstalled != 0 {
				st.AutoInstalled = strings.EqualFold(strings.TrimSpace(value), "yes")
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading control stream: %w", err)
	}

	if st == nil {
		return nil, io.EOF
	}

	if malformed != "" {
		return nil, &MalformedError{Reason: malformed}
	}

	if readingDescription {
		st.Description = description.String()
	}

	if st.Name == "" {
		return nil, &MalformedError{Reason: "no Package field"}
	}

	if r.mask&FieldProvides != 0 {
		st.Provides = ensureSelfProvides(st.Name, st.Provides)
	}

	return st, nil
}

func ensureSelfProvides(name string, provides []string) []string {
	for _, p := range provides {
		if p == name {
			return provides
		}
	}
	return append([]string{name}, provides...)
}

// ParseConffiles parses a single Conffiles continuation line, "<path>
// <digest>", into a Conffile entry.
func ParseConffiles(line string) (Conffile, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Conffile{}, fmt.Errorf("conffile line has %d fields, want 2", len(fields))
	}
	return Conffile{Path: fields[0], Digest: fields[1]}, nil
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

func splitField(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	name = line[:idx]
	if !fieldNameRe.MatchString(name) {
		return "", "", false
	}
	value = strings.TrimLeft(line[idx+1:], " \t")
	return name, value, true
}

func splitListTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// ParseProvides tokenizes a Provides field by comma and whitespace, always
// placing the package's own name as element 0.
func ParseProvides(name, list string) []string {
	return ensureSelfProvides(name, splitListTokens(list))
}

// ParseReplaces tokenizes a Replaces field the same way as Provides. The
// cross-link into an abstract package's replaced-by set (which additionally
// requires the package's Conflicts list) is performed by the package
// database, not here.
func ParseReplaces(list string) []string {
	return splitListTokens(list)
}

// ParseStatus splits a Status field value into its three whitespace
// separated tokens.
func ParseStatus(s string) (StateWant, StateFlag, StateStatus, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return WantUnknown, 0, NotInstalled, fmt.Errorf("status line has %d tokens, want 3", len(fields))
	}
	return parseStateWant(fields[0]), parseStateFlag(fields[1]), parseStateStatus(fields[2]), nil
}

var atomRe = regexp.MustCompile(`^(\S+)(?:\s*\(\s*(<<|<=|>=|>>|=|<|>)\s*([^)]*)\)\s*)?$`)

func parseAtom(s string) (Atom, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Atom{}, false
	}
	m := atomRe.FindStringSubmatch(s)
	if m == nil {
		return Atom{Name: s}, true
	}
	a := Atom{Name: m[1]}
	if m[2] != "" {
		c, ok := version.ParseConstraint(m[2])
		if ok {
			a.Constraint = c
			a.Version = strings.TrimSpace(m[3])
		}
	}
	return a, true
}

func parseCompound(s string, kind DependKind) CompoundDepend {
	trimmed := strings.TrimSpace(s)
	greedy := false
	if strings.HasSuffix(trimmed, "*") {
		greedy = true
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "*"))
	}

	var atoms []Atom
	for _, piece := range strings.Split(trimmed, "|") {
		if a, ok := parseAtom(piece); ok {
			atoms = append(atoms, a)
		}
	}

	k := kind
	if greedy {
		k = Greedy
	}
	return CompoundDepend{Kind: k, Atoms: atoms}
}

// ParseDepList parses a comma-separated list of compound dependencies, each
// an OR-group of atoms optionally marked greedy with a trailing "*".
func ParseDepList(s string, kind DependKind) []CompoundDepend {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []CompoundDepend
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, parseCompound(part, kind))
	}
	return out
}

// DependString renders a compound dependency the way opkg's
// pkg_depend_str does, for use in unresolved-dependency messages.
func DependString(c CompoundDepend) string {
	var b strings.Builder
	for i, a := range c.Atoms {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(a.Name)
		if a.Constraint != version.None {
			b.WriteString(" (")
			b.WriteString(constraintStr(a.Constraint))
			b.WriteString(a.Version)
			b.WriteString(")")
		}
	}
	return b.String()
}

func constraintStr(c version.Constraint) string {
	switch c {
	case version.LT:
		return "<< "
	case version.LE:
		return "<= "
	case version.EQ:
		return "= "
	case version.GE:
		return ">= "
	case version.GT:
		return ">> "
	default:
		return ""
	}
}

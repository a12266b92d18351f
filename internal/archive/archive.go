// Package archive extracts the control and data members of an .ipk
// package, the Debian-derived "ar" container opkg installs from: an ar
// archive holding debian-binary, control.tar.{gz,xz} and
// data.tar.{gz,xz}.
package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

const arMagic = "!<arch>\n"

// member is one entry of the ar container.
type member struct {
	name string
	size int64
	r    io.Reader
}

// arReader walks the common "ar" archive format member by member, the way
// opkg's ar-handling reads debian-binary/control.tar/data.tar in sequence.
type arReader struct {
	r *bufio.Reader
}

func newArReader(r io.Reader) (*arReader, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("reading ar magic: %w", err)
	}
	if string(magic) != arMagic {
		return nil, fmt.Errorf("not an ar archive (bad magic)")
	}
	return &arReader{r: br}, nil
}

// header fields are fixed-width ASCII; see ar(5).
type arHeader struct {
	name [16]byte
	_    [12]byte // mtime
	_    [6]byte  // uid
	_    [6]byte  // gid
	_    [8]byte  // mode
	size [10]byte
	end  [2]byte
}

func (a *arReader) next() (*member, error) {
	var hdr arHeader
	if err := readFull(a.r, hdr.name[:]); err != nil {
		return nil, err
	}
	if err := skip(a.r, 12+6+6+8); err != nil {
		return nil, err
	}
	if err := readFull(a.r, hdr.size[:]); err != nil {
		return nil, err
	}
	if err := readFull(a.r, hdr.end[:]); err != nil {
		return nil, err
	}

	size, err := strconv.ParseInt(strings.TrimSpace(string(hdr.size[:])), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing ar member size: %w", err)
	}
	name := strings.TrimRight(strings.TrimSpace(string(hdr.name[:])), "/")

	return &member{name: name, size: size, r: io.LimitReader(a.r, size)}, nil
}

// advance discards any unread bytes of the previous member, including the
// even-alignment pad byte ar inserts after odd-sized members.
func (a *arReader) advance(m *member) error {
	if _, err := io.Copy(io.Discard, m.r); err != nil {
		return err
	}
	if m.size%2 != 0 {
		if _, err := a.r.Discard(1); err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}

func skip(r io.Reader, n int) error {
	_, err := io.CopyN(io.Discard, r, int64(n))
	return err
}

// decompressor picks gzip or xz based on the tar member's file extension,
// matching the payload compressions modern opkg builds emit.
func decompressor(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".tar.xz"):
		return xz.NewReader(r)
	case strings.HasSuffix(name, ".tar"):
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported archive member %q", name)
	}
}

// findMember scans the ar container for the first member whose name starts
// with prefix (control.tar or data.tar), returning its decompressed tar
// stream. The stream reads straight from r; it is not buffered in memory.
func findMember(r io.Reader, prefix string) (io.Reader, error) {
	ar, err := newArReader(r)
	if err != nil {
		return nil, err
	}

	for {
		m, err := ar.next()
		if err == io.EOF {
			return nil, fmt.Errorf("no %s* member found in archive", prefix)
		}
		if err != nil {
			return nil, err
		}

		if !strings.HasPrefix(m.name, prefix) {
			if err := ar.advance(m); err != nil {
				return nil, err
			}
			continue
		}

		dec, err := decompressor(m.name, m.r)
		if err != nil {
			return nil, err
		}
		return dec, nil
	}
}

// ExtractControl copies the control.tar member's tar stream (decompressed)
// of the .ipk read from r into out, implementing the §6 extract_control
// collaborator interface.
func ExtractControl(r io.Reader, out io.Writer) error {
	return extractMember(r, "control.tar", out)
}

// ExtractFileList writes, one per line, every regular-file, symlink and
// hard-link path
// recorded in the data.tar member, implementing the §6 extract_file_list
// collaborator interface.
func ExtractFileList(r io.Reader, out io.Writer) error {
	dataTar, err := findMember(r, "data.tar")
	if err != nil {
		return err
	}

	tr := tar.NewReader(dataTar)
	w := bufio.NewWriter(out)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading data.tar: %w", err)
		}
		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeSymlink, tar.TypeLink:
			if _, err := fmt.Fprintln(w, normalizePath(hdr.Name)); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func extractMember(r io.Reader, prefix string, out io.Writer) error {
	member, err := findMember(r, prefix)
	if err != nil {
		return err
	}
	// The control tarball is small (a handful of stanza/script files); the
	// caller wants the raw tar stream, not individual entries, so just copy
	// it through once decompressed.
	if _, err := io.Copy(out, member); err != nil {
		return fmt.Errorf("copying %s: %w", prefix, err)
	}
	return nil
}

func normalizePath(name string) string {
	name = strings.TrimPrefix(name, "./")
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// ReadControlFile extracts control.tar from the .ipk at r and returns the
// contents of the named member within it (e.g. "control" or "conffiles"),
// without writing the whole tarball through a caller-supplied stream. It
// uses the same member lookup as ExtractControl and walks the decompressed
// control.tar stream directly.
func ReadControlFile(r io.Reader, member string) ([]byte, error) {
	controlTar, err := findMember(r, "control.tar")
	if err != nil {
		return nil, err
	}

	tr := tar.NewReader(controlTar)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("member %q not found in control.tar", member)
		}
		if err != nil {
			return nil, fmt.Errorf("reading control.tar: %w", err)
		}
		if strings.TrimPrefix(hdr.Name, "./") == member {
			return io.ReadAll(tr)
		}
	}
}

package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"strings"
	"testing"
)

// buildTarGz returns a gzip-compressed tar stream containing the given
// name -> content entries.
func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing tar content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(tarBuf.Bytes()); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return gzBuf.Bytes()
}

// buildIPK assembles a minimal ar archive with debian-binary, control.tar.gz
// and data.tar.gz members, padding odd-sized members per ar(5).
func buildIPK(t *testing.T, control, data map[string]string) []byte {
	t.Helper()
	controlTarGz := buildTarGz(t, control)
	dataTarGz := buildTarGz(t, data)

	var buf bytes.Buffer
	buf.WriteString(arMagic)
	writeArMember(t, &buf, "debian-binary", []byte("2.0\n"))
	writeArMember(t, &buf, "control.tar.gz", controlTarGz)
	writeArMember(t, &buf, "data.tar.gz", dataTarGz)
	return buf.Bytes()
}

func writeArMember(t *testing.T, buf *bytes.Buffer, name string, content []byte) {
	t.Helper()
	header := fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "100644", len(content))
	if len(header) != 60 {
		t.Fatalf("malformed test ar header, got %d bytes: %q", len(header), header)
	}
	buf.WriteString(header)
	buf.Write(content)
	if len(content)%2 != 0 {
		buf.WriteByte('\n')
	}
}

func TestExtractControl_RoundTrips(t *testing.T) {
	pkg := buildIPK(t, map[string]string{
		"./control": "Package: foo\nVersion: 1.0\n",
	}, map[string]string{
		"./usr/bin/foo": "binary",
	})

	var out bytes.Buffer
	if err := ExtractControl(bytes.NewReader(pkg), &out); err != nil {
		t.Fatalf("ExtractControl() error = %v", err)
	}

	tr := tar.NewReader(&out)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("reading extracted control.tar: %v", err)
	}
	if hdr.Name != "./control" {
		t.Errorf("member name = %q, want ./control", hdr.Name)
	}
}

func TestExtractFileList_ListsDataMembers(t *testing.T) {
	pkg := buildIPK(t, map[string]string{
		"./control": "Package: foo\nVersion: 1.0\n",
	}, map[string]string{
		"./usr/bin/foo":     "binary",
		"./etc/foo.conf":    "config",
	})

	var out bytes.Buffer
	if err := ExtractFileList(bytes.NewReader(pkg), &out); err != nil {
		t.Fatalf("ExtractFileList() error = %v", err)
	}

	listing := out.String()
	for _, want := range []string{"/usr/bin/foo", "/etc/foo.conf"} {
		if !strings.Contains(listing, want) {
			t.Errorf("file list missing %q, got:\n%s", want, listing)
		}
	}
}

func TestReadControlFile_ExtractsNamedMember(t *testing.T) {
	pkg := buildIPK(t, map[string]string{
		"./control":   "Package: foo\nVersion: 1.0\n",
		"./conffiles": "/etc/foo.conf\n",
	}, map[string]string{
		"./usr/bin/foo": "binary",
	})

	data, err := ReadControlFile(bytes.NewReader(pkg), "conffiles")
	if err != nil {
		t.Fatalf("ReadControlFile() error = %v", err)
	}
	if string(data) != "/etc/foo.conf\n" {
		t.Errorf("ReadControlFile(conffiles) = %q, want /etc/foo.conf\\n", data)
	}
}

func TestExtractControl_MissingMember(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(arMagic)
	writeArMember(t, &buf, "debian-binary", []byte("2.0\n"))

	var out bytes.Buffer
	if err := ExtractControl(bytes.NewReader(buf.Bytes()), &out); err == nil {
		t.Error("ExtractControl() on archive with no control.tar member should error")
	}
}

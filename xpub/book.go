package xpub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/language"
)

// containerPath is the well-known location of container.xml in an ePub archive.
const containerPath = "META-INF/container.xml"

const packageMediaType = "application/oebps-package+xml"

// BookInfo is the publication metadata read from the package document (OPF).
type BookInfo struct {
	// PackagePath is the ZIP-internal path of the OPF file.
	PackagePath string

	// Version is the package version attribute, "2.0" when absent.
	Version string

	// Title is the first non-empty dc:title.
	Title string

	// Languages lists the dc:language values in document order.
	Languages []string
}

// containerXML models the META-INF/container.xml file used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// opfPackage holds the parts of the OPF <package> element the rewriter reports.
type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	Metadata struct {
		Titles    []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ title"`
		Languages []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ language"`
	} `xml:"metadata"`
}

type opfDCElement struct {
	Value string `xml:",chardata"`
}

// readBookInfo locates and parses the package document. It returns
// ErrNoPackage when the archive has no OPF file.
func readBookInfo(zr *zip.Reader, limit int64) (*BookInfo, error) {
	opfPath, err := findPackagePath(zr, limit)
	if err != nil {
		return nil, err
	}

	f := findFileInsensitive(zr, opfPath)
	if f == nil {
		return nil, fmt.Errorf("%w: %s listed in container.xml is missing", ErrNoPackage, opfPath)
	}
	data, err := readZipFileWithLimit(f, limit)
	if err != nil {
		return nil, err
	}

	var pkg opfPackage
	if err := decodeXML(data, &pkg); err != nil {
		return nil, fmt.Errorf("xpub: parse %s: %w", f.Name, err)
	}

	info := &BookInfo{PackagePath: f.Name, Version: pkg.Version}
	if info.Version == "" {
		info.Version = "2.0"
	}
	for _, t := range pkg.Metadata.Titles {
		if v := strings.TrimSpace(t.Value); v != "" {
			info.Title = v
			break
		}
	}
	for _, l := range pkg.Metadata.Languages {
		if v := strings.TrimSpace(l.Value); v != "" {
			info.Languages = append(info.Languages, v)
		}
	}
	return info, nil
}

// findPackagePath returns the OPF path named by container.xml, preferring a
// rootfile with the OPF media type. Without container.xml it falls back to
// the first ".opf" entry.
func findPackagePath(zr *zip.Reader, limit int64) (string, error) {
	f := findFileInsensitive(zr, containerPath)
	if f == nil {
		return fallbackFindOPF(zr)
	}

	data, err := readZipFileWithLimit(f, limit)
	if err != nil {
		return "", err
	}
	var c containerXML
	if err := decodeXML(data, &c); err != nil {
		return "", fmt.Errorf("xpub: parse container.xml: %w", err)
	}

	var fallbackPath string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), packageMediaType) {
			return fullPath, nil
		}
		if fallbackPath == "" {
			fallbackPath = fullPath
		}
	}
	if fallbackPath == "" {
		return fallbackFindOPF(zr)
	}
	return fallbackPath, nil
}

// fallbackFindOPF scans the ZIP entries for the first file ending in ".opf"
// (case-insensitive).
func fallbackFindOPF(zr *zip.Reader) (string, error) {
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
			return f.Name, nil
		}
	}
	return "", ErrNoPackage
}

// decodeXML unmarshals an OPF or container document. HTML named entities,
// which some ePub 2 tools emit in metadata, are accepted.
func decodeXML(data []byte, v any) error {
	d := xml.NewDecoder(bytes.NewReader(stripBOM(data)))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel
	return d.Decode(v)
}

// languageMatches reports whether lang names the same base language as any
// of the declared languages. Values that are not BCP 47 tags are compared
// case-insensitively as written.
func languageMatches(lang string, declared []string) bool {
	want, wantErr := language.Parse(lang)
	wantBase, _ := want.Base()
	for _, d := range declared {
		if strings.EqualFold(strings.TrimSpace(d), lang) {
			return true
		}
		if wantErr != nil {
			continue
		}
		got, err := language.Parse(d)
		if err != nil {
			continue
		}
		if gotBase, _ := got.Base(); gotBase == wantBase {
			return true
		}
	}
	return false
}

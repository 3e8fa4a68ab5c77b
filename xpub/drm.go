package xpub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	encryptionFilePath = "META-INF/encryption.xml"
	sinfFilePath       = "META-INF/sinf.xml" // Apple FairPlay
)

// Font obfuscation algorithm URIs. Obfuscated fonts are not DRM; the
// rewriter copies them unchanged.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true, // IDPF
	"http://ns.adobe.com/pdf/enc#RC":     true, // Adobe
}

// drmSchemes maps namespace prefixes found in algorithm URIs or KeyInfo
// content to a scheme name for error messages.
var drmSchemes = []struct {
	prefix string
	name   string
}{
	{"http://ns.adobe.com/adept", "Adobe ADEPT"},
	{"http://readium.org/2014/01/lcp", "Readium LCP"},
}

type xmlEncryption struct {
	XMLName       xml.Name           `xml:"encryption"`
	EncryptedData []xmlEncryptedData `xml:"EncryptedData"`
}

type xmlEncryptedData struct {
	EncryptionMethod struct {
		Algorithm string `xml:"Algorithm,attr"`
	} `xml:"EncryptionMethod"`
	KeyInfo struct {
		InnerXML string `xml:",innerxml"`
	} `xml:"KeyInfo"`
}

// checkDRM refuses archives whose content documents are encrypted: wrapping
// words in ciphertext would destroy the book. It reports whether the only
// encryption present is font obfuscation.
//
// Returns:
//   - (false, nil)              – no encryption.xml, or no EncryptedData
//   - (true,  nil)              – font obfuscation only
//   - (false, ErrDRMProtected)  – anything else, wrapped with the scheme name
func checkDRM(zr *zip.Reader, limit int64) (fontObfuscation bool, err error) {
	if findFileInsensitive(zr, sinfFilePath) != nil {
		return false, fmt.Errorf("%w (Apple FairPlay)", ErrDRMProtected)
	}

	f := findFileInsensitive(zr, encryptionFilePath)
	if f == nil {
		return false, nil
	}

	data, err := readZipFileWithLimit(f, limit)
	if err != nil {
		return false, err
	}

	var enc xmlEncryption
	if err := xml.Unmarshal(stripBOM(data), &enc); err != nil {
		// An unreadable descriptor is treated as DRM.
		return false, fmt.Errorf("%w (unreadable %s: %v)", ErrDRMProtected, f.Name, err)
	}

	for _, ed := range enc.EncryptedData {
		algo := ed.EncryptionMethod.Algorithm
		if fontObfuscationAlgorithms[algo] {
			fontObfuscation = true
			continue
		}
		if name := drmScheme(algo + ed.KeyInfo.InnerXML); name != "" {
			return false, fmt.Errorf("%w (%s)", ErrDRMProtected, name)
		}
		return false, fmt.Errorf("%w (algorithm %s)", ErrDRMProtected, algo)
	}

	return fontObfuscation, nil
}

// drmScheme returns the name of the first known DRM scheme referenced in s.
func drmScheme(s string) string {
	for _, scheme := range drmSchemes {
		if strings.Contains(s, scheme.prefix) {
			return scheme.name
		}
	}
	return ""
}

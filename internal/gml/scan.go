// Package gml streams WFS GML feature collections. Both passes of the pipeline
// (key extraction and attribute join) read the payload token by token and
// never build a document tree, so payload size is bounded only by disk.
package gml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
)

// scanner wraps RawToken with element nesting checks. RawToken keeps the
// namespace prefixes exactly as written, which the join needs to emit
// elements in the feature's own namespace.
type scanner struct {
	dec   *xml.Decoder
	stack []xml.Name
}

func newScanner(r io.Reader) *scanner {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = passthroughCharset
	return &scanner{dec: dec}
}

// passthroughCharset accepts the single-byte encodings MapServer declares.
// Only markup and ASCII key values are interpreted, so the bytes are folded
// rather than transcoded.
func passthroughCharset(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "us-ascii", "ascii", "windows-1252":
		return asciiFold{r: input}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}
}

// asciiFold replaces every byte above 0x7f with '?'. The mapping is one byte
// for one byte, so decoder offsets stay equal to input offsets and Join can
// copy the original bytes from its spool.
type asciiFold struct{ r io.Reader }

func (a asciiFold) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	for i, c := range p[:n] {
		if c >= utf8.RuneSelf {
			p[i] = '?'
		}
	}
	return n, err
}

// next returns the following token, io.EOF at a clean end of input, or an
// error wrapping domain.ErrParse.
func (s *scanner) next() (xml.Token, error) {
	tok, err := s.dec.RawToken()
	if errors.Is(err, io.EOF) {
		if n := len(s.stack); n > 0 {
			return nil, parseError(s.dec.InputOffset(), "unexpected end of input inside <%s>", qualified(s.stack[n-1]))
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	switch t := tok.(type) {
	case xml.StartElement:
		s.stack = append(s.stack, t.Name)
	case xml.EndElement:
		n := len(s.stack)
		if n == 0 {
			return nil, parseError(s.dec.InputOffset(), "unexpected </%s>", qualified(t.Name))
		}
		if s.stack[n-1] != t.Name {
			return nil, parseError(s.dec.InputOffset(), "</%s> closes <%s>", qualified(t.Name), qualified(s.stack[n-1]))
		}
		s.stack = s.stack[:n-1]
	}
	return tok, nil
}

// offset is the input position just past the most recently returned token.
func (s *scanner) offset() int64 {
	return s.dec.InputOffset()
}

// featureCursor follows which feature element, if any, the scan is inside
// and collects that feature's key text.
type featureCursor struct {
	featureType string
	keyField    string

	features  int // feature elements opened so far
	inFeature bool
	depth     int // element depth below the feature element
	prefix    string
	inKey     bool
	key       strings.Builder
}

func newFeatureCursor(ft domain.FeatureType, keyField string) *featureCursor {
	return &featureCursor{featureType: string(ft), keyField: keyField}
}

// observe advances the cursor over tok and reports whether tok is the end
// tag of a feature element. The finished feature's key is then available
// from currentKey until the next call.
func (c *featureCursor) observe(tok xml.Token) bool {
	switch t := tok.(type) {
	case xml.StartElement:
		if !c.inFeature {
			if strings.EqualFold(t.Name.Local, c.featureType) {
				c.features++
				c.inFeature = true
				c.depth = 0
				c.prefix = t.Name.Space
				c.key.Reset()
			}
			return false
		}
		c.depth++
		if c.depth == 1 && strings.EqualFold(t.Name.Local, c.keyField) {
			c.inKey = true
		}
	case xml.CharData:
		if c.inKey {
			c.key.Write(t)
		}
	case xml.EndElement:
		if !c.inFeature {
			return false
		}
		if c.depth == 0 {
			c.inFeature = false
			return true
		}
		if c.depth == 1 && c.inKey {
			c.inKey = false
		}
		c.depth--
	}
	return false
}

func (c *featureCursor) currentKey() domain.MapunitKey {
	return domain.MapunitKey(strings.TrimSpace(c.key.String()))
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func parseError(offset int64, format string, args ...any) error {
	return fmt.Errorf("%w: offset %d: %s", domain.ErrParse, offset, fmt.Sprintf(format, args...))
}

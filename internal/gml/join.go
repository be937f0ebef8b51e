package gml

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
)

// Names of the elements injected into joined features.
const (
	FieldKsat    = "ksat"
	FieldPctClay = "pctClay"
	FieldPctSilt = "pctSilt"
	FieldPctSand = "pctSand"
	FieldTexture = "texture"
)

// JoinStats counts what a Join saw.
type JoinStats struct {
	Features int // ft elements encountered
	Joined   int // features that received attributes
}

// Join copies src to dst byte for byte, inserting the aggregated attributes
// of each ft feature whose key has an entry in aggs just before the
// feature's end tag. Injected elements use the feature element's prefix.
// Features without a matching aggregate pass through unchanged.
func Join(dst io.Writer, src io.Reader, ft domain.FeatureType, keyField string, aggs map[domain.MapunitKey]domain.AggregatedAttributeRecord) (JoinStats, error) {
	var stats JoinStats

	out := bufio.NewWriter(dst)
	in := &spool{r: src}
	sc := newScanner(in)
	cursor := newFeatureCursor(ft, keyField)

	for {
		before := sc.offset()
		tok, err := sc.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		if cursor.observe(tok) {
			if agg, ok := aggs[cursor.currentKey()]; ok {
				if err := in.emit(out, before); err != nil {
					return stats, fmt.Errorf("write joined features: %w", err)
				}
				writeAttributes(out, cursor.prefix, agg)
				stats.Joined++
			}
		}

		if err := in.emit(out, sc.offset()); err != nil {
			return stats, fmt.Errorf("write joined features: %w", err)
		}
	}

	stats.Features = cursor.features
	if err := in.drain(out); err != nil {
		return stats, fmt.Errorf("write joined features: %w", err)
	}
	if err := out.Flush(); err != nil {
		return stats, fmt.Errorf("write joined features: %w", err)
	}
	return stats, nil
}

// writeAttributes leaves write errors on w; they surface from Flush.
func writeAttributes(w *bufio.Writer, prefix string, agg domain.AggregatedAttributeRecord) {
	numeric := []struct {
		name  string
		value *float64
	}{
		{FieldKsat, agg.Ksat},
		{FieldPctClay, agg.PctClay},
		{FieldPctSilt, agg.PctSilt},
		{FieldPctSand, agg.PctSand},
	}
	for _, f := range numeric {
		if f.value == nil {
			continue
		}
		writeElement(w, prefix, f.name, strconv.FormatFloat(*f.value, 'f', -1, 64))
	}
	if agg.TextureClass != "" {
		writeElement(w, prefix, FieldTexture, agg.TextureClass)
	}
}

func writeElement(w *bufio.Writer, prefix, name, text string) {
	qname := name
	if prefix != "" {
		qname = prefix + ":" + name
	}
	w.WriteString("<" + qname + ">")
	xml.EscapeText(w, []byte(text)) //nolint:errcheck // surfaced by Flush
	w.WriteString("</" + qname + ">")
}

// spool records everything the decoder reads so byte ranges of the original
// input can be copied to the output once the decoder has moved past them.
// Only bytes not yet emitted are retained.
type spool struct {
	r    io.Reader
	buf  []byte
	base int64 // input offset of buf[0]
}

func (s *spool) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.buf = append(s.buf, p[:n]...)
	return n, err
}

// emit writes input bytes up to offset and forgets them.
func (s *spool) emit(w io.Writer, offset int64) error {
	n := int(offset - s.base)
	if n <= 0 {
		return nil
	}
	if _, err := w.Write(s.buf[:n]); err != nil {
		return err
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
	s.base = offset
	return nil
}

// drain writes the remaining input, including anything after the last token.
func (s *spool) drain(w io.Writer) error {
	if _, err := io.Copy(io.Discard, s); err != nil {
		return err
	}
	return s.emit(w, s.base+int64(len(s.buf)))
}

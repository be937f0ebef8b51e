package gml

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
)

// ExtractKeys collects the distinct keyField values of every ft feature in r
// in a single pass. Empty input and collections without features yield an
// empty set. An OGC exception report in place of a feature collection is
// returned as a *domain.ServiceError.
func ExtractKeys(r io.Reader, ft domain.FeatureType, keyField string) (domain.KeySet, error) {
	keys := make(domain.KeySet)
	sc := newScanner(r)
	cursor := newFeatureCursor(ft, keyField)
	sawRoot := false

	for {
		tok, err := sc.next()
		if errors.Is(err, io.EOF) {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}

		if start, ok := tok.(xml.StartElement); ok && !sawRoot {
			sawRoot = true
			if isExceptionReport(start.Name.Local) {
				return nil, readException(sc)
			}
		}

		if cursor.observe(tok) {
			if key := cursor.currentKey(); key != "" {
				keys.Add(key)
			}
		}
	}
}

func isExceptionReport(local string) bool {
	return local == "ServiceExceptionReport" || local == "ExceptionReport"
}

// readException drains the exception report and returns its text as a
// service error. Malformed reports still produce a service error.
func readException(sc *scanner) error {
	var msg strings.Builder
	for {
		tok, err := sc.next()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			if text := strings.TrimSpace(string(cd)); text != "" {
				if msg.Len() > 0 {
					msg.WriteString("; ")
				}
				msg.WriteString(text)
			}
		}
	}
	if msg.Len() == 0 {
		msg.WriteString("exception report without message")
	}
	return &domain.ServiceError{Service: "wfs", Message: msg.String()}
}

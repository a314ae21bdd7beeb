package fetcher

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// StreamXML decodes every element named elementName into T and sends it on
// the returned channel. Both channels are closed when decoding ends.
// Non-UTF-8 feeds (Spanish press RSS is often ISO-8859-1) are transcoded.
func StreamXML[T any](ctx context.Context, r io.Reader, elementName string) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := xml.NewDecoder(r)
		decoder.Strict = false
		decoder.Entity = xml.HTMLEntity
		decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}

			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "xml: read token")
				return
			}

			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != elementName {
				continue
			}

			var item T
			if err := decoder.DecodeElement(&item, &se); err != nil {
				errCh <- eris.Wrap(err, "xml: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// ReadXML collects up to limit elements from r. limit <= 0 means no cap.
// Elements decoded before a parse error are returned with the error.
func ReadXML[T any](ctx context.Context, r io.Reader, elementName string, limit int) ([]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items, errs := StreamXML[T](ctx, r, elementName)
	var out []T
	for item := range items {
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			cancel()
			break
		}
	}
	// Drain so the decoder goroutine exits.
	for range items {
	}
	if err := <-errs; err != nil && (limit <= 0 || len(out) < limit) {
		return out, err
	}
	return out, nil
}

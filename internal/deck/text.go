package deck

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"storybook/internal/services"
)

// run is the decoded content of one a:t element and its byte range.
type run struct {
	text       string
	start, end int
}

func findRuns(data []byte) ([]run, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out    []run
		inText bool
		cur    run
		sb     strings.Builder
	)
	for {
		before := int(dec.InputOffset())
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" && (el.Name.Space == nsDrawing || el.Name.Space == "a") {
				inText = true
				sb.Reset()
				cur = run{start: int(dec.InputOffset())}
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		case xml.EndElement:
			if inText && el.Name.Local == "t" {
				inText = false
				cur.end = before
				cur.text = sb.String()
				out = append(out, cur)
			}
		}
	}
	return out, nil
}

// Text returns the text runs of every slide in presentation order.
func Text(deckPath string) ([][]string, error) {
	pkg, err := openArchive(deckPath)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	slides, err := pkg.slides()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(slides))
	for i, part := range slides {
		data, err := pkg.read(part)
		if err != nil {
			return nil, services.Wrap(services.ErrFatalInput, "deck", "text", "read slide", err)
		}
		runs, err := findRuns(data)
		if err != nil {
			return nil, services.Wrap(services.ErrFatalInput, "deck", "text", "parse "+part, err)
		}
		for _, r := range runs {
			out[i] = append(out[i], r.text)
		}
	}
	return out, nil
}

// ReplaceText writes a copy of src to dst in which each occurrence of a
// replacements key inside a single text run is replaced by its value. It
// returns the number of replaced occurrences. A token split across runs is
// left unchanged.
func ReplaceText(src, dst string, replacements map[string]string) (int, error) {
	pkg, err := openArchive(src)
	if err != nil {
		return 0, err
	}
	defer pkg.Close()

	slides, err := pkg.slides()
	if err != nil {
		return 0, err
	}

	replaced := make(map[string][]byte)
	total := 0
	for _, part := range slides {
		data, err := pkg.read(part)
		if err != nil {
			return 0, services.Wrap(services.ErrFatalInput, "deck", "replace text", "read slide", err)
		}
		runs, err := findRuns(data)
		if err != nil {
			return 0, services.Wrap(services.ErrFatalInput, "deck", "replace text", "parse "+part, err)
		}
		var edits []edit
		for _, r := range runs {
			text, count := substitute(r.text, replacements)
			if count == 0 {
				continue
			}
			var buf bytes.Buffer
			if err := xml.EscapeText(&buf, []byte(text)); err != nil {
				return 0, fmt.Errorf("escape text: %w", err)
			}
			edits = append(edits, edit{start: r.start, end: r.end, text: buf.Bytes()})
			total += count
		}
		if len(edits) > 0 {
			replaced[part] = applyEdits(data, edits)
		}
	}

	if err := writeArchive(dst, pkg, replaced, nil); err != nil {
		return 0, err
	}
	return total, nil
}

func substitute(text string, replacements map[string]string) (string, int) {
	count := 0
	for _, token := range slices.Sorted(maps.Keys(replacements)) {
		value := replacements[token]
		if token == "" {
			continue
		}
		if n := strings.Count(text, token); n > 0 {
			text = strings.ReplaceAll(text, token, value)
			count += n
		}
	}
	return text, count
}

// writeArchive writes src to dst with replaced part bodies and extra parts
// appended in order.
func writeArchive(dst string, src *archive, replaced map[string][]byte, extra []namedPart) error {
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create deck: %w", err)
	}
	zw := zip.NewWriter(f)
	writeErr := copyArchive(zw, src, replaced)
	for _, part := range extra {
		if writeErr != nil {
			break
		}
		writeErr = addPart(zw, part.name, part.body)
	}
	if err := zw.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("finalize deck: %w", err)
	}
	if err := f.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close deck: %w", err)
	}
	if writeErr != nil {
		_ = os.Remove(tmp)
		return writeErr
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install deck: %w", err)
	}
	return nil
}

type namedPart struct {
	name string
	body []byte
}

package deck

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"storybook/internal/services"
)

const (
	nsRelationships  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsDrawing        = "http://schemas.openxmlformats.org/drawingml/2006/main"
	relTypeImage     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
	relTypeOfficeDoc = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	relTypeSlide     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide"
)

var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

type relationships struct {
	Rels []relationship `xml:"Relationship"`
}

func (r relationships) byID(id string) (relationship, bool) {
	for _, rel := range r.Rels {
		if rel.ID == id {
			return rel, true
		}
	}
	return relationship{}, false
}

type presentation struct {
	SlideIDs []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

// archive is an opened PPTX package.
type archive struct {
	reader *zip.ReadCloser
	files  map[string]*zip.File
}

func openArchive(deckPath string) (*archive, error) {
	reader, err := zip.OpenReader(deckPath)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "deck", "open", "unreadable deck "+deckPath, err)
	}
	files := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		files[f.Name] = f
	}
	return &archive{reader: reader, files: files}, nil
}

func (a *archive) Close() error {
	return a.reader.Close()
}

func (a *archive) has(name string) bool {
	_, ok := a.files[name]
	return ok
}

func (a *archive) read(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("part %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", name, err)
	}
	return data, nil
}

func (a *archive) rels(part string) (relationships, error) {
	var rels relationships
	name := relsPath(part)
	if !a.has(name) {
		return rels, nil
	}
	data, err := a.read(name)
	if err != nil {
		return rels, err
	}
	if err := xml.Unmarshal(data, &rels); err != nil {
		return rels, fmt.Errorf("parse %s: %w", name, err)
	}
	return rels, nil
}

// slides returns slide part names in presentation order.
func (a *archive) slides() ([]string, error) {
	presPart := "ppt/presentation.xml"
	if rootRels, err := a.rels(""); err == nil {
		for _, rel := range rootRels.Rels {
			if rel.Type == relTypeOfficeDoc {
				presPart = resolveTarget("", rel.Target)
				break
			}
		}
	}
	if !a.has(presPart) {
		return nil, services.Wrap(services.ErrFatalInput, "deck", "slides", "missing presentation part", nil)
	}

	data, err := a.read(presPart)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "deck", "slides", "read presentation", err)
	}
	var pres presentation
	if err := xml.Unmarshal(data, &pres); err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "deck", "slides", "parse presentation", err)
	}
	presRels, err := a.rels(presPart)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "deck", "slides", "parse presentation rels", err)
	}

	var ordered []string
	for _, sld := range pres.SlideIDs {
		rel, ok := presRels.byID(sld.RID)
		if !ok || rel.Type != relTypeSlide {
			continue
		}
		part := resolveTarget(presPart, rel.Target)
		if a.has(part) {
			ordered = append(ordered, part)
		}
	}
	if len(ordered) > 0 {
		return ordered, nil
	}
	return a.slidesByName(), nil
}

// slidesByName orders slide parts by their numeric suffix when the
// presentation part lists none.
func (a *archive) slidesByName() []string {
	type numbered struct {
		name string
		n    int
	}
	var found []numbered
	for name := range a.files {
		if m := slidePartPattern.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			found = append(found, numbered{name, n})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.name
	}
	return out
}

func relsPath(part string) string {
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

func resolveTarget(part, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return strings.TrimPrefix(path.Clean(path.Join(path.Dir(part), target)), "/")
}

// copyArchive writes every entry of src to zw, substituting bodies from
// replaced. Untouched entries are copied without recompression.
func copyArchive(zw *zip.Writer, src *archive, replaced map[string][]byte) error {
	for _, f := range src.reader.File {
		body, ok := replaced[f.Name]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copy part %s: %w", f.Name, err)
			}
			continue
		}
		header := f.FileHeader
		header.Method = zip.Deflate
		w, err := zw.CreateHeader(&header)
		if err != nil {
			return fmt.Errorf("create part %s: %w", f.Name, err)
		}
		if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
			return fmt.Errorf("write part %s: %w", f.Name, err)
		}
	}
	return nil
}

func addPart(zw *zip.Writer, name string, body []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create part %s: %w", name, err)
	}
	_, err = w.Write(body)
	return err
}

// edit replaces data[start:end] with text.
type edit struct {
	start, end int
	text       []byte
}

func applyEdits(data []byte, edits []edit) []byte {
	if len(edits) == 0 {
		return data
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	var buf bytes.Buffer
	buf.Grow(len(data))
	last := 0
	for _, e := range edits {
		buf.Write(data[last:e.start])
		buf.Write(e.text)
		last = e.end
	}
	buf.Write(data[last:])
	return buf.Bytes()
}

package deck

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"storybook/internal/services"
)

var embedAttrPattern = regexp.MustCompile(`(\b[A-Za-z_][\w.-]*:embed\s*=\s*)("[^"]*"|'[^']*')`)

var mediaContentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

type contentTypes struct {
	Defaults []struct {
		Extension string `xml:"Extension,attr"`
	} `xml:"Default"`
}

// ReplaceImages writes a copy of src to dst in which each picture named in
// replacements shows the image file it maps to. Every replaced picture gets
// its own media part and relationship; pictures that share the original
// media keep it. It returns the number of pictures repointed. Keys that name
// no picture are ignored.
func ReplaceImages(src, dst string, replacements map[ShapeKey]string) (int, error) {
	pkg, err := openArchive(src)
	if err != nil {
		return 0, err
	}
	defer pkg.Close()

	slides, err := pkg.slides()
	if err != nil {
		return 0, err
	}

	byPage := make(map[int]map[int]string)
	for key, file := range replacements {
		if byPage[key.Page] == nil {
			byPage[key.Page] = make(map[int]string)
		}
		byPage[key.Page][key.Shape] = file
	}

	replaced := make(map[string][]byte)
	var extra []namedPart
	names := newPartNames(pkg)
	extensions := make(map[string]bool)
	total := 0

	for page, part := range slides {
		shapes := byPage[page]
		if len(shapes) == 0 {
			continue
		}
		data, err := pkg.read(part)
		if err != nil {
			return 0, services.Wrap(services.ErrFatalInput, "deck", "replace images", "read slide", err)
		}
		pics, err := findPictures(data)
		if err != nil {
			return 0, services.Wrap(services.ErrFatalInput, "deck", "replace images", "parse "+part, err)
		}
		rels, err := pkg.rels(part)
		if err != nil {
			return 0, services.Wrap(services.ErrFatalInput, "deck", "replace images", "parse rels", err)
		}
		relIDs := make(map[string]bool, len(rels.Rels))
		for _, rel := range rels.Rels {
			relIDs[rel.ID] = true
		}

		var (
			edits   []edit
			newRels bytes.Buffer
		)
		for _, pic := range pics {
			file, ok := shapes[pic.shapeID]
			if !ok {
				continue
			}
			body, err := os.ReadFile(file)
			if err != nil {
				return 0, fmt.Errorf("read replacement for %s: %w", ShapeKey{Page: page, Shape: pic.shapeID}, err)
			}
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), ".")
			if ext == "" {
				ext = "jpg"
			}
			extensions[ext] = true

			mediaPart := names.unique(fmt.Sprintf("ppt/media/storybook_p%d_s%d", page, pic.shapeID), "."+ext)
			relID := uniqueRelID(relIDs, fmt.Sprintf("rIdSb%d", pic.shapeID))
			extra = append(extra, namedPart{name: mediaPart, body: body})

			target := relativeTarget(part, mediaPart)
			fmt.Fprintf(&newRels, `<Relationship Id="%s" Type="%s" Target="%s"/>`, relID, relTypeImage, target)

			tag := data[pic.blipStart:pic.blipEnd]
			loc := embedAttrPattern.FindSubmatchIndex(tag)
			if loc == nil {
				continue
			}
			valueStart := pic.blipStart + loc[4]
			valueEnd := pic.blipStart + loc[5]
			edits = append(edits, edit{start: valueStart, end: valueEnd, text: []byte(`"` + relID + `"`)})
			total++
		}
		if len(edits) == 0 {
			continue
		}
		replaced[part] = applyEdits(data, edits)

		relsName := relsPath(part)
		if pkg.has(relsName) {
			body, err := pkg.read(relsName)
			if err != nil {
				return 0, err
			}
			replaced[relsName] = insertBefore(body, "</Relationships>", newRels.Bytes())
		} else {
			extra = append(extra, namedPart{
				name: relsName,
				body: []byte(xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` + newRels.String() + `</Relationships>`),
			})
		}
	}

	if total > 0 {
		body, err := ensureContentTypes(pkg, extensions)
		if err != nil {
			return 0, err
		}
		if body != nil {
			replaced["[Content_Types].xml"] = body
		}
	}

	if err := writeArchive(dst, pkg, replaced, extra); err != nil {
		return 0, err
	}
	return total, nil
}

// ensureContentTypes returns an updated content types part declaring every
// extension, or nil when nothing is missing.
func ensureContentTypes(pkg *archive, extensions map[string]bool) ([]byte, error) {
	const name = "[Content_Types].xml"
	data, err := pkg.read(name)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "deck", "content types", "read content types", err)
	}
	var types contentTypes
	if err := xml.Unmarshal(data, &types); err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "deck", "content types", "parse content types", err)
	}
	declared := make(map[string]bool)
	for _, d := range types.Defaults {
		declared[strings.ToLower(d.Extension)] = true
	}
	var missing []string
	for ext := range extensions {
		if !declared[ext] {
			missing = append(missing, ext)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	sort.Strings(missing)
	var buf bytes.Buffer
	for _, ext := range missing {
		ct, ok := mediaContentTypes[ext]
		if !ok {
			ct = "application/octet-stream"
		}
		fmt.Fprintf(&buf, `<Default Extension="%s" ContentType="%s"/>`, ext, ct)
	}
	return insertBefore(data, "</Types>", buf.Bytes()), nil
}

func insertBefore(data []byte, marker string, insert []byte) []byte {
	idx := bytes.LastIndex(data, []byte(marker))
	if idx < 0 {
		return append(append([]byte{}, data...), insert...)
	}
	out := make([]byte, 0, len(data)+len(insert))
	out = append(out, data[:idx]...)
	out = append(out, insert...)
	return append(out, data[idx:]...)
}

// relativeTarget expresses target relative to the directory of part.
func relativeTarget(part, target string) string {
	rel, err := filepath.Rel(path.Dir(part), target)
	if err != nil {
		return "/" + target
	}
	return filepath.ToSlash(rel)
}

func uniqueRelID(existing map[string]bool, base string) string {
	id := base
	for n := 2; existing[id]; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	existing[id] = true
	return id
}

type partNames map[string]bool

func newPartNames(pkg *archive) partNames {
	names := make(partNames, len(pkg.files))
	for name := range pkg.files {
		names[name] = true
	}
	return names
}

func (p partNames) unique(base, ext string) string {
	name := base + ext
	for n := 2; p[name]; n++ {
		name = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	p[name] = true
	return name
}

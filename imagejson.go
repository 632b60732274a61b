package grapeconv

// Per-image COCO-style JSON specific functionality. One document is written per image, carrying
// grape variety metadata derived from the image file name.

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// varietyPrefixes maps image file name prefixes to grape variety names.
var varietyPrefixes = map[string]string{
	"CDY": "Chardonnay",
	"CFR": "Cabernet Franc",
	"CSV": "Cabernet Sauvignon",
	"SVB": "Sauvignon Blanc",
	"SYH": "Syrah",
}

// VarietyFromFilename returns the grape variety for the image file name, derived from its prefix.
// Returns the empty string when the prefix is not a known variety code.
func VarietyFromFilename(path string) string {
	base := filepath.Base(path)
	for prefix, name := range varietyPrefixes {
		if strings.HasPrefix(base, prefix) {
			return name
		}
	}
	return ""
}

// ImageJSONLicense is the license block of a per-image document.
type ImageJSONLicense struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ImageJSONInfo is the info block of a per-image document.
type ImageJSONInfo struct {
	Description string           `json:"description"`
	Version     string           `json:"version"`
	Year        int              `json:"year"`
	Contributor string           `json:"contributor"`
	Source      string           `json:"source"`
	License     ImageJSONLicense `json:"license"`
}

// ImageJSONImage describes the single image of a per-image document.
type ImageJSONImage struct {
	ID       int    `json:"id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"` // File size in bytes.
	Format   string `json:"format"`
	Variety  string `json:"variety,omitempty"`
}

// ImageJSONDocument is a COCO-style document for a single image.
type ImageJSONDocument struct {
	Info        ImageJSONInfo    `json:"info"`
	Images      []ImageJSONImage `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []COCOCategory   `json:"categories"`
}

// toImageJSON converts the intermediate representation for a single image to a per-image
// document. IDs are deterministic: the image has ID 1 and annotations count up from 1 in input
// order, so repeated runs produce identical documents.
func toImageJSON(fileData AnnotatedFile, labels *LabelMap) (ImageJSONDocument, error) {
	info, err := os.Stat(fileData.FilePath)
	if err != nil {
		return ImageJSONDocument{}, fmt.Errorf("cannot access the image %q: %v", fileData.FilePath, err)
	}

	_, _, ext, err := splitPath(fileData.FilePath)
	if err != nil {
		return ImageJSONDocument{}, err
	}

	variety := VarietyFromFilename(fileData.FilePath)
	description := "Grape detection annotation"
	if variety != "" {
		description = fmt.Sprintf("Grape detection annotation for %s variety", variety)
	}

	doc := ImageJSONDocument{
		Info: ImageJSONInfo{
			Description: description,
			Version:     cocoVersion,
			Year:        cocoYear,
			Contributor: fmt.Sprintf("Embrapa %s Dataset", cocoDatasetName),
			Source:      "Field captured grape images",
			License: ImageJSONLicense{
				Name: "Creative Commons Attribution 4.0 International",
				URL:  "https://creativecommons.org/licenses/by/4.0/",
			},
		},
		Images: []ImageJSONImage{{
			ID:       1,
			Width:    fileData.Width,
			Height:   fileData.Height,
			FileName: filepath.Base(fileData.FilePath),
			Size:     info.Size(),
			Format:   strings.ToUpper(ext),
			Variety:  variety,
		}},
		Annotations: make([]COCOAnnotation, 0, len(fileData.Annotations)),
		Categories:  cocoCategories(labels),
	}

	for _, a := range fileData.Annotations {
		id, ok := labels.ID(a.Label)
		if !ok {
			log.Printf("Skipping annotation with unmapped label %q in %q", a.Label, fileData.FilePath)
			continue
		}

		row := roundToPixels(a, fileData.Width, fileData.Height)
		doc.Annotations = append(doc.Annotations, COCOAnnotation{
			ID:         len(doc.Annotations) + 1,
			ImageID:    1,
			CategoryID: id,
			Bbox:       [4]int{row.X, row.Y, row.Width, row.Height},
			Area:       row.Width * row.Height,
			Iscrowd:    0,
		})
	}

	return doc, nil
}

// WritePerImageJSON writes one COCO-style JSON document per image to outDir, named after the
// image base name. Images whose metadata cannot be read are reported and skipped.
func WritePerImageJSON(outDir string, data []AnnotatedFile, labels *LabelMap) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("cannot create the output directory %q: %v", outDir, err)
	}

	skipped := 0
	for _, fileData := range data {
		doc, err := toImageJSON(fileData, labels)
		if err != nil {
			log.Printf("Skipping %q: %v", fileData.FilePath, err)
			skipped++
			continue
		}

		_, baseNoExt, _, err := splitPath(fileData.FilePath)
		if err != nil {
			log.Printf("Skipping %q: %v", fileData.FilePath, err)
			skipped++
			continue
		}

		enc, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, baseNoExt+".json")
		if err := writeFileAtomic(outPath, enc, 0644); err != nil {
			return err
		}
	}

	log.Printf("Wrote %d per-image documents, skipped %d", len(data)-skipped, skipped)
	return nil
}

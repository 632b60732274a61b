package grapeconv

// COCO object detection JSON specific functionality.

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Static COCO info metadata.
const (
	cocoYear          = 2025
	cocoVersion       = "1.0.0"
	cocoDatasetName   = "WGISD"
	cocoDatasetURL    = "https://github.com/thsant/wgisd"
	cocoSupercategory = "fruit"
)

// COCOInfo is the info block of a COCO document.
type COCOInfo struct {
	Year        int    `json:"year"`
	Version     string `json:"version"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// COCOImage describes a single image in a COCO document.
type COCOImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"` // Relative to the dataset root, slash-separated.
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// COCOCategory describes an object category in a COCO document.
type COCOCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

// COCOAnnotation is a single object annotation in a COCO document.
type COCOAnnotation struct {
	ID         int    `json:"id"`
	ImageID    int    `json:"image_id"`
	CategoryID int    `json:"category_id"`
	Bbox       [4]int `json:"bbox"` // x, y, width, height in absolute pixels.
	Area       int    `json:"area"`
	Iscrowd    int    `json:"iscrowd"`
}

// COCODocument is a complete COCO object detection document.
type COCODocument struct {
	Info        COCOInfo         `json:"info"`
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []COCOCategory   `json:"categories"`
	Licenses    []struct{}       `json:"licenses"`
}

// readSplitList reads the image base names (without extension) from the split file at path, in
// file order. Blank lines are ignored and repeated names keep their first position.
func readSplitList(path string) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(lines))
	stems := make([]string, 0, len(lines))
	for _, line := range lines {
		stem := strings.TrimSpace(line)
		if stem == "" || seen[stem] {
			continue
		}
		seen[stem] = true
		stems = append(stems, stem)
	}

	return stems, nil
}

// cocoCategories converts the label map to the COCO category list, in ascending ID order.
func cocoCategories(labels *LabelMap) []COCOCategory {
	ids := labels.ForegroundIDs()
	categories := make([]COCOCategory, 0, len(ids))
	for _, id := range ids {
		name, _ := labels.Name(id)
		categories = append(categories, COCOCategory{
			ID:            id,
			Name:          name,
			Supercategory: cocoSupercategory,
		})
	}
	return categories
}

// WriteCOCOSplits converts the per-image CSV annotations under root into one COCO JSON document
// per requested split and writes them to outDir.
//
// The dataset layout under root is <category>/{images,csv,sets}: split membership files
// sets/<split>.txt list image base names, one per line; per-image boxes come from
// csv/<stem>.csv. Image and annotation IDs are assigned sequentially from 1 in split-file order,
// scoped to each split document, which makes the output reproducible byte for byte.
//
// An image listed in a split but missing its image or CSV file is reported and excluded. A split
// whose membership file is missing is reported and skipped, but it is an error if none of the
// requested split files exist.
func WriteCOCOSplits(root, outDir, category string, splits []string, labels *LabelMap) error {
	if len(splits) == 0 {
		return fmt.Errorf("no splits requested")
	}

	categoryRoot := filepath.Join(root, category)
	if info, err := os.Stat(categoryRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("cannot access the dataset root %q: %v", categoryRoot, err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("cannot create the output directory %q: %v", outDir, err)
	}

	imageDir := filepath.Join(categoryRoot, "images")
	csvDir := filepath.Join(categoryRoot, "csv")
	setsDir := filepath.Join(categoryRoot, "sets")

	// Map image base names to their file extension once for all splits. The listing is sorted so
	// that a stem present with two extensions resolves identically across runs.
	imageFiles, err := filesByExtInDir(imageDir, "")
	if err != nil {
		return err
	}
	sort.Strings(imageFiles)
	imageNamesToExt := mapFileNamesToExtensions(imageFiles)

	resolved := 0
	for _, split := range splits {
		splitFile := filepath.Join(setsDir, split+".txt")
		stems, err := readSplitList(splitFile)
		if err != nil {
			log.Printf("Cannot resolve split %q: %v", split, err)
			continue
		}
		resolved++

		doc := buildCOCODocument(root, imageDir, csvDir, category, split, stems,
			imageNamesToExt, labels)

		enc, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}

		outPath := filepath.Join(outDir, fmt.Sprintf("%s_instances_%s.json", category, split))
		if err := writeFileAtomic(outPath, enc, 0644); err != nil {
			return err
		}

		log.Printf("Wrote %s with %d images and %d annotations",
			outPath, len(doc.Images), len(doc.Annotations))
	}

	if resolved == 0 {
		return fmt.Errorf("none of the requested split files exist in %q", setsDir)
	}
	return nil
}

// buildCOCODocument assembles the COCO document for a single split from the given image base
// names, in order.
func buildCOCODocument(root, imageDir, csvDir, category, split string, stems []string,
		imageNamesToExt map[string]string, labels *LabelMap) COCODocument {

	doc := COCODocument{
		Info: COCOInfo{
			Year:        cocoYear,
			Version:     cocoVersion,
			Description: fmt.Sprintf("%s %s %s split", cocoDatasetName, category, split),
			URL:         cocoDatasetURL,
		},
		Images:      make([]COCOImage, 0, len(stems)),
		Annotations: make([]COCOAnnotation, 0, len(stems)),
		Categories:  cocoCategories(labels),
		Licenses:    []struct{}{},
	}

	missingImages := 0
	missingCSVs := 0

	imageID := 0
	annotationID := 0
	for _, stem := range stems {
		ext, found := imageNamesToExt[stem]
		if !found {
			log.Printf("No image file for %q in split %q, excluding it", stem, split)
			missingImages++
			continue
		}
		imagePath := filepath.Join(imageDir, stem+"."+ext)

		img, _, err := decodeImageConfig(imagePath)
		if err != nil {
			log.Printf("Failed to decode the image metadata for %q, excluding it: %v", stem, err)
			missingImages++
			continue
		}

		csvPath := filepath.Join(csvDir, stem+".csv")
		rows, err := readCSVRows(csvPath)
		if err != nil {
			log.Printf("No readable CSV for %q in split %q, excluding it: %v", stem, split, err)
			missingCSVs++
			continue
		}

		relPath, err := filepath.Rel(root, imagePath)
		if err != nil {
			relPath = imagePath
		}

		imageID++
		doc.Images = append(doc.Images, COCOImage{
			ID:       imageID,
			FileName: filepath.ToSlash(relPath),
			Width:    img.Width,
			Height:   img.Height,
		})

		for _, row := range rows {
			// Guard against hand-edited CSVs: dangling category IDs and boxes exceeding the
			// image bounds are skipped per row.
			if _, ok := labels.Name(row.Label); !ok || row.Label == BackgroundID {
				log.Printf("Skipping row %d with unmapped label %d in %q", row.Item, row.Label, csvPath)
				continue
			}
			if !row.inBounds(img.Width, img.Height) {
				log.Printf("Skipping out-of-bounds row %d in %q", row.Item, csvPath)
				continue
			}

			annotationID++
			doc.Annotations = append(doc.Annotations, COCOAnnotation{
				ID:         annotationID,
				ImageID:    imageID,
				CategoryID: row.Label,
				Bbox:       [4]int{row.X, row.Y, row.Width, row.Height},
				Area:       row.Width * row.Height,
				Iscrowd:    0,
			})
		}
	}

	if missingImages > 0 || missingCSVs > 0 {
		log.Printf("Split %q: excluded %d images without image files and %d without CSV files",
			split, missingImages, missingCSVs)
	}

	return doc
}

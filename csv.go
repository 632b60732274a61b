package grapeconv

// Per-image CSV specific functionality. This is the intermediate, human-inspectable format
// between the YOLO input and the COCO/TFRecord outputs.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// csvHeader is the fixed header row of a per-image CSV file.
var csvHeader = []string{"#item", "x", "y", "width", "height", "label"}

// CSVAnnotation is a single row within a per-image CSV file. All coordinates are absolute pixel
// values with the origin at the top-left corner of the box.
type CSVAnnotation struct {
	Item   int // 1-based row sequence number.
	X      int
	Y      int
	Width  int
	Height int
	Label  int // The category ID.
}

// inBounds reports whether the box lies fully inside an image of the given dimensions.
func (a CSVAnnotation) inBounds(imgWidth, imgHeight int) bool {
	return a.X >= 0 && a.Y >= 0 && a.Width >= 0 && a.Height >= 0 &&
			a.X+a.Width <= imgWidth && a.Y+a.Height <= imgHeight
}

// CSVAnnotatedFile defines the CSV annotation structure for a single image.
type CSVAnnotatedFile struct {
	Annotations []CSVAnnotation
	FilePath    string // The annotated image file.
}

// ToCSV converts the intermediate representation to the CSV format. Coordinates are rounded to
// the nearest integer pixel (half away from zero) and clamped so that the rounded box stays
// within the image. Annotations with a label that is not present in labels are reported and
// skipped.
func ToCSV(data []AnnotatedFile, labels *LabelMap) []CSVAnnotatedFile {
	unmapped := 0

	csvData := make([]CSVAnnotatedFile, 0, len(data))
	for _, fileData := range data {
		csvFileData := CSVAnnotatedFile{
			Annotations: make([]CSVAnnotation, 0, len(fileData.Annotations)),
			FilePath:    fileData.FilePath,
		}
		for _, a := range fileData.Annotations {
			id, ok := labels.ID(a.Label)
			if !ok {
				unmapped++
				continue
			}

			row := roundToPixels(a, fileData.Width, fileData.Height)
			row.Item = len(csvFileData.Annotations) + 1
			row.Label = id
			csvFileData.Annotations = append(csvFileData.Annotations, row)
		}
		csvData = append(csvData, csvFileData)
	}

	if unmapped > 0 {
		log.Printf("Skipped %d annotations with labels missing from the label map", unmapped)
	}
	return csvData
}

// roundToPixels rounds the box coordinates of a to integer pixels. Rounding may push an edge past
// the image bounds by a fraction of a pixel, so the rounded box is clamped to an image of the
// given dimensions.
func roundToPixels(a Annotation, imgWidth, imgHeight int) CSVAnnotation {
	x := int(math.Round(a.Coords[0]))
	y := int(math.Round(a.Coords[1]))
	w := int(math.Round(a.Width()))
	h := int(math.Round(a.Height()))

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+w > imgWidth {
		w = imgWidth - x
	}
	if y+h > imgHeight {
		h = imgHeight - y
	}

	return CSVAnnotation{X: x, Y: y, Width: w, Height: h}
}

// WriteCSV writes data to dirPath, one CSV file per image, named after the image base name.
// Each file is written atomically.
func WriteCSV(dirPath string, data []CSVAnnotatedFile) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("cannot create the output directory %q: %v", dirPath, err)
	}

	for _, fileData := range data {
		_, baseNoExt, _, err := splitPath(fileData.FilePath)
		if err != nil {
			return err
		}
		filePath := filepath.Join(dirPath, baseNoExt+".csv")

		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write(csvHeader)
		for _, a := range fileData.Annotations {
			_ = w.Write([]string{
				strconv.Itoa(a.Item), strconv.Itoa(a.X), strconv.Itoa(a.Y),
				strconv.Itoa(a.Width), strconv.Itoa(a.Height), strconv.Itoa(a.Label),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}

		if err := writeFileAtomic(filePath, buf.Bytes(), 0644); err != nil {
			return err
		}
	}

	return nil
}

// FromCSV reads and parses per-image CSV annotations from csvDir and matches them to the images
// in imageDir. Label IDs are resolved to names through labels; rows with an unmapped ID are
// reported and skipped.
func FromCSV(csvDir, imageDir string, labels *LabelMap) ([]AnnotatedFile, error) {
	return parseLabelsWithOneToOneImages(csvDir, ".csv", imageDir,
		func(labelPath, imagePath string) (AnnotatedFile, error) {
			return parseCSVFile(labelPath, imagePath, labels)
		})
}

// parseCSVFile parses the CSV file at csvPath and reads metadata from the corresponding image at
// imagePath to construct an AnnotatedFile struct and return it.
func parseCSVFile(csvPath, imagePath string, labels *LabelMap) (AnnotatedFile, error) {
	rows, err := readCSVRows(csvPath)
	if err != nil {
		return AnnotatedFile{}, err
	}

	// Get the image width and height.
	img, _, err := decodeImageConfig(imagePath)
	if err != nil {
		return AnnotatedFile{}, err
	}

	fileData := AnnotatedFile{
		Annotations: make([]Annotation, 0, len(rows)),
		FilePath:    imagePath,
		Width:       img.Width,
		Height:      img.Height,
	}
	for _, row := range rows {
		name, ok := labels.Name(row.Label)
		if !ok || row.Label == BackgroundID {
			log.Printf("Skipping row with unmapped label %d in %q", row.Label, csvPath)
			continue
		}
		if !row.inBounds(img.Width, img.Height) {
			log.Printf("Skipping out-of-bounds row %d in %q", row.Item, csvPath)
			continue
		}

		fileData.Annotations = append(fileData.Annotations, Annotation{
			Coords: [4]float64{
				float64(row.X), float64(row.Y),
				float64(row.X + row.Width), float64(row.Y + row.Height),
			},
			Label: name,
		})
	}

	return fileData, nil
}

// readCSVRows reads the annotation rows from the CSV file at path, in file order. The header row
// is validated and not returned. Malformed rows are reported and skipped.
func readCSVRows(path string) ([]CSVAnnotation, error) {
	enc, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %v", path, err)
	}

	r := csv.NewReader(bytes.NewReader(enc))
	r.FieldsPerRecord = -1 // Field counts are validated per row so one bad row cannot abort the file.
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %v", path, err)
	}
	if len(records) == 0 || records[0][0] != csvHeader[0] {
		return nil, fmt.Errorf("missing CSV header in %q", path)
	}

	rows := make([]CSVAnnotation, 0, len(records)-1)
	for _, rec := range records[1:] {
		var a CSVAnnotation
		fields := [6]*int{&a.Item, &a.X, &a.Y, &a.Width, &a.Height, &a.Label}
		ok := len(rec) == len(fields)
		for i := 0; ok && i < len(fields); i++ {
			if *fields[i], err = strconv.Atoi(rec[i]); err != nil {
				ok = false
			}
		}
		if !ok {
			log.Printf("Skipping malformed row %v in %q", rec, path)
			continue
		}
		rows = append(rows, a)
	}

	return rows, nil
}

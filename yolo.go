package grapeconv

// YOLO specific functionality.

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
)

// YOLOAnnotation is a single annotation line within a YOLO label file. The coordinates describe
// the box center and size as fractions of the image dimensions.
type YOLOAnnotation struct {
	ClassID int
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// FromYOLO reads and parses YOLO annotations from labelDir and matches them to the images in
// imageDir. Image dimensions are read from the image files; the normalized box coordinates are
// scaled to absolute pixel coordinates and policy is applied to boxes that exceed the image
// bounds.
//
// YOLO class IDs start at 0 and are shifted by +1 to obtain the category ID, which labels resolves
// to a label name. Annotations with a class ID not present in labels are reported and skipped.
func FromYOLO(labelDir, imageDir string, labels *LabelMap, policy BoundsPolicy) (
		[]AnnotatedFile, error) {

	labelFiles, err := filesByExtInDir(labelDir, ".txt")
	if err != nil {
		return nil, err
	}
	log.Printf("Parsing YOLO labels for %d files", len(labelFiles))

	// Find the image files and create a map from base file name without ext to ext.
	imageFiles, err := filesByExtInDir(imageDir, "")
	if err != nil {
		return nil, err
	}
	imageNamesToExt := mapFileNamesToExtensions(imageFiles)

	malformed := 0
	missingImages := 0

	data := make([]AnnotatedFile, 0, len(labelFiles))
	for _, path := range labelFiles {
		// Find the corresponding image and read its dimensions.
		_, baseNoExt, _, err := splitPath(path)
		if err != nil {
			log.Print(err)
			missingImages++
			continue
		}
		imageExt, found := imageNamesToExt[baseNoExt]
		if !found {
			log.Print("Could not find the corresponding image file, skipping ", path)
			missingImages++
			continue
		}
		imagePath := filepath.Join(imageDir, baseNoExt+"."+imageExt)

		img, _, err := decodeImageConfig(imagePath)
		if err != nil {
			log.Printf("Failed to decode the image metadata, skipping %q: %v", path, err)
			missingImages++
			continue
		}

		// Parse the file.
		lines, err := readLines(path)
		if err != nil {
			log.Printf("Error while parsing, skipping %q: %v", path, err)
			continue
		}

		fileData := AnnotatedFile{
			Annotations: make([]Annotation, 0, len(lines)),
			FilePath:    imagePath,
			Width:       img.Width,
			Height:      img.Height,
		}
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			a, err := parseYOLOAnnotation(line)
			if err != nil {
				log.Printf("Skipping malformed line in %q: %v", path, err)
				malformed++
				continue
			}

			name, ok := labels.Name(a.ClassID + 1)
			if !ok {
				log.Printf("Skipping line with unmapped class %d in %q", a.ClassID, path)
				malformed++
				continue
			}

			fileData.Annotations = append(fileData.Annotations,
				a.toAbsolute(img.Width, img.Height, name))
		}

		data = append(data, fileData)
	}

	AnnotatedFiles(data).ApplyBoundsPolicy(policy)

	log.Printf("Parsed %d files; %d files without a readable image, %d malformed lines",
		len(data), missingImages, malformed)
	return data, nil
}

// parseYOLOAnnotation parses the line of values for a single annotation. A line must hold exactly
// five space-separated fields, with the four coordinate fractions in [0, 1].
func parseYOLOAnnotation(line string) (YOLOAnnotation, error) {
	a := YOLOAnnotation{}

	tokens := strings.Fields(line)
	if len(tokens) != 5 {
		return a, fmt.Errorf("expected 5 fields, got %d in %q", len(tokens), line)
	}

	classID, err := strconv.Atoi(tokens[0])
	if err != nil || classID < 0 {
		return a, fmt.Errorf("invalid class ID in %q", line)
	}
	a.ClassID = classID

	coords := [4]*float64{&a.CenterX, &a.CenterY, &a.Width, &a.Height}
	for i, dst := range coords {
		v, err := strconv.ParseFloat(tokens[i+1], 64)
		if err != nil {
			return a, fmt.Errorf("unexpected values in %q: %v", line, err)
		}
		if v < 0 || v > 1 {
			return a, fmt.Errorf("coordinate fraction %v out of [0, 1] in %q", v, line)
		}
		*dst = v
	}

	return a, nil
}

// toAbsolute converts the normalized center coordinates to an absolute top-left/bottom-right box
// for an image of the given dimensions.
func (a YOLOAnnotation) toAbsolute(imgWidth, imgHeight int, label string) Annotation {
	w := float64(imgWidth)
	h := float64(imgHeight)

	x1 := (a.CenterX - a.Width/2) * w
	y1 := (a.CenterY - a.Height/2) * h

	return Annotation{
		Coords: [4]float64{x1, y1, x1 + a.Width*w, y1 + a.Height*h},
		Label:  label,
	}
}

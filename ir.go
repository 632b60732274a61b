package grapeconv

// The intermediate annotation metadata representation.

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"strings"
	"sync"
)

// BoundsPolicy selects how boxes that exceed the image bounds are handled.
type BoundsPolicy int

// The known bounds policies.
const (
	ClampToBounds   BoundsPolicy = iota // Intersect the box with the image rectangle.
	DropOutOfBounds                     // Delete any box that is not fully inside the image.
)

// BoundsPolicyFrom parses a policy name. Valid names are "clamp" and "drop".
func BoundsPolicyFrom(s string) (BoundsPolicy, error) {
	switch s {
	case "clamp":
		return ClampToBounds, nil
	case "drop":
		return DropOutOfBounds, nil
	}
	return ClampToBounds, fmt.Errorf("unknown bounds policy %q", s)
}

// Annotation is the intermediate representation of an object label.
type Annotation struct {
	Coords [4]float64 // Absolute x1, y1, x2, y2 offsets from the top-left corner.
	Label  string
}

// Width is the object width from a.Coords.
func (a Annotation) Width() float64 {
	return a.Coords[2] - a.Coords[0]
}

// Height is the object height from a.Coords.
func (a Annotation) Height() float64 {
	return a.Coords[3] - a.Coords[1]
}

// AnnotatedFile is the intermediate representation of the metadata for one annotated image.
type AnnotatedFile struct {
	Annotations []Annotation // The annotations.
	FilePath    string       // The annotated image file.
	Width       int          // The image width in pixels.
	Height      int          // The image height in pixels.
}

// scaleCoords scales all Annotations.Coords by the given scale factors.
func (f *AnnotatedFile) scaleCoords(width, height float64) {
	for i := range f.Annotations {
		for j := 0; j < 4; j++ {
			if j&1 == 0 {
				f.Annotations[i].Coords[j] *= width
			} else {
				f.Annotations[i].Coords[j] *= height
			}
		}
	}
}

// applyBoundsPolicy enforces policy on all annotations of f.
//
// Returns the number of boxes that were clamped or dropped.
func (f *AnnotatedFile) applyBoundsPolicy(policy BoundsPolicy) int {
	w := float64(f.Width)
	h := float64(f.Height)
	count := 0

	kept := f.Annotations[:0]
	for _, a := range f.Annotations {
		inBounds := a.Coords[0] >= 0 && a.Coords[1] >= 0 && a.Coords[2] <= w && a.Coords[3] <= h
		if !inBounds {
			count++
			if policy == DropOutOfBounds {
				continue
			}
			a.Coords[0] = math.Max(a.Coords[0], 0)
			a.Coords[1] = math.Max(a.Coords[1], 0)
			a.Coords[2] = math.Min(a.Coords[2], w)
			a.Coords[3] = math.Min(a.Coords[3], h)
		}
		kept = append(kept, a)
	}
	f.Annotations = kept

	return count
}

// AnnotatedFiles is the annotation metadata for a list of files.
type AnnotatedFiles []AnnotatedFile

// ApplyBoundsPolicy enforces policy on all annotations, clamping or deleting boxes that exceed
// their image bounds.
func (data AnnotatedFiles) ApplyBoundsPolicy(policy BoundsPolicy) {
	count := 0
	for i := range data {
		count += data[i].applyBoundsPolicy(policy)
	}
	if count > 0 {
		action := "Clamped"
		if policy == DropOutOfBounds {
			action = "Dropped"
		}
		log.Printf("%s %d out-of-bounds boxes", action, count)
	}
}

// MapLabels replaces label (sub-)strings with substitution values, as specified in mappings.
//
// The format of mappings is old=new.
func (data AnnotatedFiles) MapLabels(mappings []string) error {
	if len(mappings) == 0 {
		return nil
	}

	// Extract the individual old and new strings to map between.
	replacements := make([]struct{ old, new string }, len(mappings))
	for i, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 {
			return fmt.Errorf("invalid mapping: %v", v)
		}

		replacements[i].old = a[0]
		replacements[i].new = a[1]
	}

	// Apply the replacements, in order, to all labels.
	count := 0
	for _, f := range data {
		for i := range f.Annotations {
			a := &f.Annotations[i]

			oldLabel := a.Label
			for _, r := range replacements {
				a.Label = strings.Replace(a.Label, r.old, r.new, -1)
			}

			if a.Label != oldLabel {
				count++
			}
		}
	}

	log.Printf("The label mappings changed %d labels", count)
	return nil
}

// ProcessImages resizes all referenced images and writes them to imageOutDir using the specified
// encoding. Bounding box coordinates and the recorded image dimensions are rescaled to match, and
// FilePath is updated to the output path.
func (data AnnotatedFiles) ProcessImages(imageOutDir string, longerSide, shorterSide int,
		downsamplingFilter, upsamplingFilter, encoding string, jpegQuality int) error {

	if longerSide <= 0 && shorterSide <= 0 {
		return nil
	}
	log.Print("Processing images")

	downsample, err := resampleFilterFrom(downsamplingFilter)
	if err != nil {
		return err
	}
	upsample, err := resampleFilterFrom(upsamplingFilter)
	if err != nil {
		return err
	}

	// Select the output file extension based on the requested encoding.
	var fileExt string
	switch strings.ToLower(encoding) {
	case "jpg", "jpeg":
		fileExt = ".jpg"
	case "png":
		fileExt = ".png"
	default:
		return fmt.Errorf("unsupported output encoding %q", encoding)
	}

	// Process images concurrently from a work queue. Limit the number of goroutines in flight, as
	// they load potentially large images into memory.
	numTasks := 2 * runtime.NumCPU()
	if len(data) < numTasks {
		numTasks = len(data)
	}
	workQueue := make(chan *AnnotatedFile, 2*numTasks)
	errors := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		go func() {
			defer wg.Done()
			for d := range workQueue {
				resizeAnnotatedImage(d, imageOutDir, fileExt, longerSide, shorterSide, downsample,
					upsample, jpegQuality, errors)
			}
		}()
	}

	// Feed the work queue.
	for i := range data {
		workQueue <- &data[i]
	}
	close(workQueue)
	wg.Wait()

	close(errors)
	if len(errors) > 0 {
		return <-errors
	}

	return nil
}

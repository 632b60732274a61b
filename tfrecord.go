package grapeconv

// TFRecord object detection specific functionality.

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// TFRecordAnnotatedFile defines the TFRecord annotation structure for a single file.
type TFRecordAnnotatedFile struct {
	Annotations TFFeatureMap
	FilePath    string
}

// toTFRecord converts the intermediate representation for a single file to the TFRecord format.
// Category IDs are resolved through labels; annotations with an unmapped label are reported and
// skipped.
func toTFRecord(fileData AnnotatedFile, labels *LabelMap) (TFRecordAnnotatedFile, error) {
	// Get the image width, height and encoding format.
	img, format, err := decodeImageConfig(fileData.FilePath)
	if err != nil {
		return TFRecordAnnotatedFile{}, fmt.Errorf("failed to decode the image metadata: %v", err)
	}

	// Read the image data.
	imgData, err := readFile(fileData.FilePath)
	if err != nil {
		return TFRecordAnnotatedFile{}, fmt.Errorf("failed to read the image: %v", err)
	}

	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = fileData.FilePath
	f["image/source_id"] = fileData.FilePath
	f["image/encoded"] = imgData
	f["image/format"] = format

	// Prepare the per label data.
	numLabels := len(fileData.Annotations)
	xmins := make([]float32, 0, numLabels)
	ymins := make([]float32, 0, numLabels)
	xmaxs := make([]float32, 0, numLabels)
	ymaxs := make([]float32, 0, numLabels)
	classes := make([]string, 0, numLabels)
	classIDs := make([]int64, 0, numLabels)
	for _, a := range fileData.Annotations {
		id, ok := labels.ID(a.Label)
		if !ok {
			log.Printf("Skipping annotation with unmapped label %q in %q", a.Label, fileData.FilePath)
			continue
		}

		xmins = append(xmins, float32(a.Coords[0])/float32(img.Width))
		ymins = append(ymins, float32(a.Coords[1])/float32(img.Height))
		xmaxs = append(xmaxs, float32(a.Coords[2])/float32(img.Width))
		ymaxs = append(ymaxs, float32(a.Coords[3])/float32(img.Height))
		classes = append(classes, a.Label)
		classIDs = append(classIDs, int64(id))
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs

	return TFRecordAnnotatedFile{
		Annotations: f,
		FilePath:    fileData.FilePath,
	}, nil
}

// WriteTFRecord does a streaming conversion, serialisation and file write for the annotation data
// to one or more TFRecord files stored under recordFilePath (with suffixes added when
// numShards > 1).
//
// When labelMapPath is not empty the label map is written there as JSON for downstream consumers.
func WriteTFRecord(recordFilePath, labelMapPath string, data []AnnotatedFile, labels *LabelMap,
		numShards int) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	shardIdx := -1

	// Convert and serialise one data element at a time.
	for i, fileData := range data {
		// Check if a new shard file needs to be opened for writing.
		if shardSize > 0 && i%shardSize == 0 {
			shardIdx++

			// Close the previous shard file.
			if shardFile != nil {
				_ = shardFile.Close()
				shardFile = nil
			}

			// Create the new shard file.
			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
			shardFile = f
		}

		// Convert the file data to an example.
		tfFileData, err := toTFRecord(fileData, labels)
		if err != nil {
			log.Printf("Failed to convert %q: %v", fileData.FilePath, err)
			continue
		}
		tfExample := example.New(tfFileData.Annotations)

		// Write the example. A failed write leaves the shard truncated, so it aborts the run.
		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			_ = shardFile.Close()
			return fmt.Errorf("failed to write the example for %q: %v", fileData.FilePath, err)
		}
	}

	if shardFile != nil {
		shardFile.Close()
	}

	if labelMapPath != "" {
		return labels.Write(labelMapPath)
	}
	return nil
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// Converts grape cluster detection annotations between the YOLO, per-image CSV, COCO JSON,
// per-image JSON and TFRecord formats.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sensorable/grapeconv"
)

var (
	convertFrom format // The source format.
	convertTo   format // The target format.

	imageDirPath    string // The input directory with the labeled images.
	imageOutDirPath string // The output directory for images after processing.
	labelDirPath    string // The input label directory.
	outPath         string // The output file or directory, depending on the format.

	rootDirPath  string   // The dataset root directory (coco).
	categoryName string   // The category subdirectory and single-class label name.
	splitNames   []string // The split names to generate (coco).

	labelMapFilePath    string // An optional JSON label map to load.
	labelMapOutFilePath string // Where to write the label map (tfrecord).
	numShardFiles       int    // The number of shard files to create (tfrecord).

	labelMappings string // A comma-separated string of label mappings.
	oobPolicyName string // The policy for out-of-bounds boxes.

	imageOutEncoding        string // The file type for image outputs.
	imageResizeLonger       int    // The target length for the longer side of the image.
	imageResizeShorter      int    // The target length for the shorter side of the image.
	imageDownsamplingFilter string // The algorithm to use when downsampling.
	imageUpsamplingFilter   string // The algorithm to use when upsampling.
	imageJPEGQuality        int    // The JPEG quality for JPEG outputs.
)

type format int

// The known label formats.
const (
	Unknown format = iota // If an unknown format is specified.
	YOLO
	CSV
	COCO
	ImageJSON
	TFRecord
)

func formatFrom(s string) format {
	switch s {
	case "yolo":
		return YOLO
	case "csv":
		return CSV
	case "coco":
		return COCO
	case "json":
		return ImageJSON
	case "tfrecord":
		return TFRecord
	}
	return Unknown
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  yolo input options:\t\t-labels <dir> -images <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  csv input options:\t\t-labels <dir> -images <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  csv output options:\t\t-out <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  coco output options:\t\t-root <dir> -category <name>"+
				" -splits <name[,...]> -out <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  json output options:\t\t-out <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  tfrecord output options:\t-out <file>"+
				" [-label-map-out <file>] [-num-shards]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Format arguments.
	from := flag.String("from", "", "The source `format` {yolo, csv}")
	to := flag.String("to", "", "The target `format` {csv, coco, json, tfrecord}")

	// Path arguments.
	flag.StringVar(&imageDirPath, "images", imageDirPath,
		"The `path` to the image input directory")
	flag.StringVar(&imageOutDirPath, "images-out", imageOutDirPath,
		"The `path` to the image output directory (only required when image processing"+
				" functionality is used)")
	flag.StringVar(&labelDirPath, "labels", labelDirPath,
		"The `path` to the label input directory (yolo, csv)")
	flag.StringVar(&outPath, "out", outPath,
		"The output `path`: a directory (csv, coco, json) or file (tfrecord)")

	// Dataset layout arguments for the COCO output.
	flag.StringVar(&rootDirPath, "root", rootDirPath,
		"The `path` to the dataset root containing the category subdirectory (coco)")
	flag.StringVar(&categoryName, "category", "grape",
		"The category `name`; names the single foreground class when no label map is given"+
				" and the <root>/<category> subdirectory for the coco output")
	splits := flag.String("splits", "train,val,test",
		"The comma-separated split `names` to generate (coco); one sets/<name>.txt per split")

	// Label map arguments.
	flag.StringVar(&labelMapFilePath, "label-map", labelMapFilePath,
		"The `path` to a JSON label map of category IDs to names (0 is reserved for background)")
	flag.StringVar(&labelMapOutFilePath, "label-map-out", labelMapOutFilePath,
		"The `path` to write the label map to (tfrecord only)")
	flag.IntVar(&numShardFiles, "num-shards", 1,
		"The number of shard files to create (tfrecord only)")

	// Conversion and transformation arguments.
	flag.StringVar(&labelMappings, "map-labels", labelMappings,
		"Comma-separated list of old=new label (sub-)string replacements")
	flag.StringVar(&oobPolicyName, "oob-policy", "clamp",
		"The `policy` for boxes exceeding the image bounds {clamp, drop}")

	// Image processing arguments.
	flag.StringVar(&imageOutEncoding, "image-enc", "jpg",
		"The `encoding` for output images {jpg, png}")
	flag.IntVar(&imageResizeLonger, "resize-longer", imageResizeLonger,
		"The target `length` for the longer side of the image (zero to keep aspect ratio)")
	flag.IntVar(&imageResizeShorter, "resize-shorter", imageResizeShorter,
		"The target `length` for the shorter side of the image (zero to keep aspect ratio)")
	flag.StringVar(&imageDownsamplingFilter, "downsample-filter", "box",
		"The filter to use when downsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.StringVar(&imageUpsamplingFilter, "upsample-filter", "linear",
		"The filter to use when upsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.IntVar(&imageJPEGQuality, "jpeg-quality", 90,
		"The quality to use when encoding JPEGs [1, 100]")

	// Parse and validate flags.
	flag.Parse()

	convertFrom = formatFrom(*from)
	convertTo = formatFrom(*to)

	// Validate the conversion direction.
	validInFormat := false
	for _, f := range []format{YOLO, CSV} {
		if f == convertFrom {
			validInFormat = true
			break
		}
	}
	validOutFormat := false
	for _, f := range []format{CSV, COCO, ImageJSON, TFRecord} {
		if f == convertTo {
			validOutFormat = true
			break
		}
	}
	if !validInFormat {
		printUsageAndExit("Unsupported input format")
	} else if !validOutFormat {
		printUsageAndExit("Unsupported output format")
	}

	// Validate input arguments. The coco output reads the dataset layout directly.
	if convertTo == COCO {
		if convertFrom != CSV {
			printUsageAndExit("The coco output requires -from csv")
		}
		if rootDirPath == "" || categoryName == "" {
			printUsageAndExit("Missing -root or -category argument")
		}
	} else if labelDirPath == "" || imageDirPath == "" {
		printUsageAndExit("Missing label or image input path argument")
	}

	if outPath == "" {
		printUsageAndExit("Missing output path argument")
	}

	// Validate split arguments.
	for _, v := range strings.Split(*splits, ",") {
		if v = strings.TrimSpace(v); v != "" {
			splitNames = append(splitNames, v)
		}
	}
	if convertTo == COCO && len(splitNames) == 0 {
		printUsageAndExit("No split names given in -splits")
	}

	// Image processing arguments.
	if (imageResizeLonger > 0 || imageResizeShorter > 0) && imageOutDirPath == "" {
		printUsageAndExit("Missing image output directory path")
	}
	if imageJPEGQuality < 1 || imageJPEGQuality > 100 {
		imageJPEGQuality = 92
		log.Print("Invalid JPEG quality, setting it to ", imageJPEGQuality)
	}

	// Clean path arguments.
	if imageDirPath != "" {
		imageDirPath = filepath.Clean(imageDirPath)
	}
	if imageOutDirPath != "" {
		imageOutDirPath = filepath.Clean(imageOutDirPath)
	}
	if imageDirPath != "" && imageDirPath == imageOutDirPath {
		printUsageAndExit("The image input and output paths cannot be identical")
	}
	if labelDirPath != "" {
		labelDirPath = filepath.Clean(labelDirPath)
	}
	outPath = filepath.Clean(outPath)
	if labelDirPath != "" && labelDirPath == outPath {
		printUsageAndExit("The label input and output paths cannot be identical")
	}
}

func main() {
	// Resolve the label map.
	var labels *grapeconv.LabelMap
	var err error
	if labelMapFilePath != "" {
		if labels, err = grapeconv.LoadLabelMap(labelMapFilePath); err != nil {
			log.Fatal("Failed to load the label map: ", err)
		}
	} else {
		labels = grapeconv.SingleClassLabelMap(categoryName)
	}

	// The COCO output works on the dataset layout directly, through the CSV file contract.
	if convertTo == COCO {
		if err := grapeconv.WriteCOCOSplits(rootDirPath, outPath, categoryName, splitNames,
				labels); err != nil {
			log.Fatal("Conversion failed: ", err)
		}
		return
	}

	// Parse input.
	var data []grapeconv.AnnotatedFile
	switch convertFrom {
	case YOLO:
		policy, err := grapeconv.BoundsPolicyFrom(oobPolicyName)
		if err != nil {
			log.Fatal(err)
		}
		data, err = grapeconv.FromYOLO(labelDirPath, imageDirPath, labels, policy)
		if err != nil {
			log.Fatal("Failed to parse the input: ", err)
		}
	case CSV:
		data, err = grapeconv.FromCSV(labelDirPath, imageDirPath, labels)
		if err != nil {
			log.Fatal("Failed to parse the input: ", err)
		}
	default:
		log.Fatal("Unsupported input format")
	}

	af := grapeconv.AnnotatedFiles(data)

	// Map labels.
	if len(labelMappings) > 0 {
		if err := af.MapLabels(strings.Split(labelMappings, ",")); err != nil {
			log.Fatal("Failed to map labels: ", err)
		}
	}

	// Process images.
	err = af.ProcessImages(imageOutDirPath, imageResizeLonger, imageResizeShorter,
		imageDownsamplingFilter, imageUpsamplingFilter, imageOutEncoding, imageJPEGQuality)
	if err != nil {
		log.Fatal("Image processing failed: ", err)
	}

	// Write the output.
	switch convertTo {
	case CSV:
		csvData := grapeconv.ToCSV(af, labels)
		err = grapeconv.WriteCSV(outPath, csvData)
	case ImageJSON:
		err = grapeconv.WritePerImageJSON(outPath, af, labels)
	case TFRecord:
		err = grapeconv.WriteTFRecord(outPath, labelMapOutFilePath, af, labels, numShardFiles)
	default:
		err = fmt.Errorf("unsupported output format")
	}
	if err != nil {
		log.Fatal("Conversion failed: ", err)
	}

	log.Print("Total number of labelled files: ", len(af))
}

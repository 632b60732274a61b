package grapeconv

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newCOCOFixture builds a dataset layout with three annotated images holding 2, 0 and 1 boxes
// and a train split listing them in that order. Returns the dataset root.
func newCOCOFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	categoryRoot := filepath.Join(root, "grapes")

	writeTestPNG(t, filepath.Join(categoryRoot, "images", "CDY_0001.png"), 100, 80)
	writeTestPNG(t, filepath.Join(categoryRoot, "images", "CFR_0002.png"), 200, 160)
	writeTestPNG(t, filepath.Join(categoryRoot, "images", "SYH_0003.png"), 300, 240)

	writeTestFile(t, filepath.Join(categoryRoot, "csv", "CDY_0001.csv"),
		"#item,x,y,width,height,label\n"+
				"1,10,10,20,20,1\n"+
				"2,40,40,30,30,1\n")
	writeTestFile(t, filepath.Join(categoryRoot, "csv", "CFR_0002.csv"),
		"#item,x,y,width,height,label\n")
	writeTestFile(t, filepath.Join(categoryRoot, "csv", "SYH_0003.csv"),
		"#item,x,y,width,height,label\n"+
				"1,5,5,50,60,1\n")

	writeTestFile(t, filepath.Join(categoryRoot, "sets", "train.txt"),
		"CDY_0001\nCFR_0002\nSYH_0003\n")

	return root
}

func readCOCODocument(t *testing.T, path string) COCODocument {
	t.Helper()
	enc, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %q: %v", path, err)
	}
	var doc COCODocument
	if err := json.Unmarshal(enc, &doc); err != nil {
		t.Fatalf("failed to parse %q: %v", path, err)
	}
	return doc
}

func TestWriteCOCOSplitsSkipsInvalidRows(t *testing.T) {
	root := newCOCOFixture(t)
	categoryRoot := filepath.Join(root, "grapes")
	outDir := filepath.Join(root, "annotations")

	// Rows exceeding the image bounds, using the background ID or referencing an ID that is not
	// in the label map must not reach the document.
	writeTestFile(t, filepath.Join(categoryRoot, "csv", "CDY_0001.csv"),
		"#item,x,y,width,height,label\n"+
				"1,10,10,20,20,1\n"+
				"2,90,10,20,20,1\n"+
				"3,5,5,10,10,0\n"+
				"4,5,5,10,10,7\n")

	err := WriteCOCOSplits(root, outDir, "grapes", []string{"train"}, SingleClassLabelMap("grape"))
	if err != nil {
		t.Fatalf("WriteCOCOSplits failed: %v", err)
	}

	doc := readCOCODocument(t, filepath.Join(outDir, "grapes_instances_train.json"))
	if len(doc.Annotations) != 2 {
		t.Fatalf("got %d annotations, want 2", len(doc.Annotations))
	}
	// The first image keeps only its valid row; IDs stay sequential across the document.
	if doc.Annotations[0].ImageID != 1 || doc.Annotations[1].ImageID != 3 {
		t.Errorf("annotation image IDs = %d, %d, want 1, 3",
			doc.Annotations[0].ImageID, doc.Annotations[1].ImageID)
	}
	for i, ann := range doc.Annotations {
		if ann.ID != i+1 {
			t.Errorf("annotation %d has ID %d, want %d", i, ann.ID, i+1)
		}
		if ann.CategoryID != 1 {
			t.Errorf("annotation %d has category_id %d, want 1", i, ann.CategoryID)
		}
	}
}

func TestWriteCOCOSplitsIDAssignment(t *testing.T) {
	root := newCOCOFixture(t)
	outDir := filepath.Join(root, "annotations")

	err := WriteCOCOSplits(root, outDir, "grapes", []string{"train"}, SingleClassLabelMap("grape"))
	if err != nil {
		t.Fatalf("WriteCOCOSplits failed: %v", err)
	}

	doc := readCOCODocument(t, filepath.Join(outDir, "grapes_instances_train.json"))

	if len(doc.Images) != 3 {
		t.Fatalf("got %d images, want 3", len(doc.Images))
	}
	for i, img := range doc.Images {
		if img.ID != i+1 {
			t.Errorf("image %d has ID %d, want %d", i, img.ID, i+1)
		}
	}
	if doc.Images[0].Width != 100 || doc.Images[0].Height != 80 {
		t.Errorf("image 0 dimensions = %dx%d, want 100x80",
			doc.Images[0].Width, doc.Images[0].Height)
	}
	if want := "grapes/images/CDY_0001.png"; doc.Images[0].FileName != want {
		t.Errorf("image 0 file_name = %q, want %q", doc.Images[0].FileName, want)
	}

	// Annotation IDs are sequential across the document: 1,2 for the first image, none for the
	// second, 3 for the third.
	if len(doc.Annotations) != 3 {
		t.Fatalf("got %d annotations, want 3", len(doc.Annotations))
	}
	wantImageIDs := []int{1, 1, 3}
	for i, a := range doc.Annotations {
		if a.ID != i+1 {
			t.Errorf("annotation %d has ID %d, want %d", i, a.ID, i+1)
		}
		if a.ImageID != wantImageIDs[i] {
			t.Errorf("annotation %d has image_id %d, want %d", i, a.ImageID, wantImageIDs[i])
		}
		if a.Iscrowd != 0 {
			t.Errorf("annotation %d has iscrowd %d, want 0", i, a.Iscrowd)
		}
	}
	if a := doc.Annotations[2]; a.Bbox != [4]int{5, 5, 50, 60} || a.Area != 3000 {
		t.Errorf("annotation 2 = %+v, want bbox [5 5 50 60] with area 3000", a)
	}

	// Category metadata.
	if len(doc.Categories) != 1 {
		t.Fatalf("got %d categories, want 1", len(doc.Categories))
	}
	c := doc.Categories[0]
	if c.ID != 1 || c.Name != "grape" || c.Supercategory != "fruit" {
		t.Errorf("category = %+v, want {1 grape fruit}", c)
	}
	if !strings.Contains(doc.Info.Description, "train") {
		t.Errorf("info description %q does not name the split", doc.Info.Description)
	}
}

func TestWriteCOCOSplitsEmptySplit(t *testing.T) {
	root := newCOCOFixture(t)
	outDir := filepath.Join(root, "annotations")
	writeTestFile(t, filepath.Join(root, "grapes", "sets", "val.txt"), "")

	err := WriteCOCOSplits(root, outDir, "grapes", []string{"val"}, SingleClassLabelMap("grape"))
	if err != nil {
		t.Fatalf("WriteCOCOSplits failed: %v", err)
	}

	outPath := filepath.Join(outDir, "grapes_instances_val.json")
	doc := readCOCODocument(t, outPath)
	if len(doc.Images) != 0 || len(doc.Annotations) != 0 {
		t.Errorf("empty split produced %d images and %d annotations",
			len(doc.Images), len(doc.Annotations))
	}

	// The arrays must be present as [] rather than null.
	enc, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(enc, []byte("null")) {
		t.Error("empty split document contains null arrays")
	}
}

func TestWriteCOCOSplitsIdempotent(t *testing.T) {
	root := newCOCOFixture(t)
	outDir := filepath.Join(root, "annotations")
	labels := SingleClassLabelMap("grape")
	outPath := filepath.Join(outDir, "grapes_instances_train.json")

	if err := WriteCOCOSplits(root, outDir, "grapes", []string{"train"}, labels); err != nil {
		t.Fatalf("WriteCOCOSplits failed: %v", err)
	}
	first, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}

	if err := WriteCOCOSplits(root, outDir, "grapes", []string{"train"}, labels); err != nil {
		t.Fatalf("second WriteCOCOSplits failed: %v", err)
	}
	second, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Error("repeated runs on unchanged inputs produced different output")
	}
}

func TestWriteCOCOSplitsOrderFollowsSplitFile(t *testing.T) {
	root := newCOCOFixture(t)
	outDir := filepath.Join(root, "annotations")
	labels := SingleClassLabelMap("grape")

	// Reverse the membership order. The same images must be included, with IDs assigned in the
	// new file order.
	writeTestFile(t, filepath.Join(root, "grapes", "sets", "train.txt"),
		"SYH_0003\nCFR_0002\nCDY_0001\n")

	if err := WriteCOCOSplits(root, outDir, "grapes", []string{"train"}, labels); err != nil {
		t.Fatalf("WriteCOCOSplits failed: %v", err)
	}
	doc := readCOCODocument(t, filepath.Join(outDir, "grapes_instances_train.json"))

	if len(doc.Images) != 3 {
		t.Fatalf("got %d images, want 3", len(doc.Images))
	}
	wantNames := []string{"SYH_0003.png", "CFR_0002.png", "CDY_0001.png"}
	for i, img := range doc.Images {
		if filepath.Base(img.FileName) != wantNames[i] {
			t.Errorf("image %d is %q, want %q", i, img.FileName, wantNames[i])
		}
		if img.ID != i+1 {
			t.Errorf("image %d has ID %d, want %d", i, img.ID, i+1)
		}
	}

	// SYH_0003 now comes first, so its single box takes annotation ID 1.
	if len(doc.Annotations) != 3 {
		t.Fatalf("got %d annotations, want 3", len(doc.Annotations))
	}
	if a := doc.Annotations[0]; a.ID != 1 || a.ImageID != 1 || a.Bbox != [4]int{5, 5, 50, 60} {
		t.Errorf("first annotation = %+v, want the SYH_0003 box with ID 1", a)
	}
}

func TestWriteCOCOSplitsMissingFilesExcludeImage(t *testing.T) {
	root := newCOCOFixture(t)
	outDir := filepath.Join(root, "annotations")

	// One listed image has no CSV, another does not exist at all.
	writeTestFile(t, filepath.Join(root, "grapes", "sets", "train.txt"),
		"CDY_0001\nGHOST_0009\nSYH_0003\n")
	if err := os.Remove(filepath.Join(root, "grapes", "csv", "SYH_0003.csv")); err != nil {
		t.Fatal(err)
	}

	err := WriteCOCOSplits(root, outDir, "grapes", []string{"train"}, SingleClassLabelMap("grape"))
	if err != nil {
		t.Fatalf("WriteCOCOSplits failed: %v", err)
	}

	doc := readCOCODocument(t, filepath.Join(outDir, "grapes_instances_train.json"))
	if len(doc.Images) != 1 {
		t.Fatalf("got %d images, want 1", len(doc.Images))
	}
	if filepath.Base(doc.Images[0].FileName) != "CDY_0001.png" {
		t.Errorf("kept image = %q, want CDY_0001.png", doc.Images[0].FileName)
	}
	if len(doc.Annotations) != 2 {
		t.Errorf("got %d annotations, want 2", len(doc.Annotations))
	}
}

func TestWriteCOCOSplitsMissingSplitFiles(t *testing.T) {
	root := newCOCOFixture(t)
	outDir := filepath.Join(root, "annotations")
	labels := SingleClassLabelMap("grape")

	// An unresolvable split alongside a resolvable one is not fatal.
	err := WriteCOCOSplits(root, outDir, "grapes", []string{"train", "nope"}, labels)
	if err != nil {
		t.Fatalf("WriteCOCOSplits failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "grapes_instances_nope.json")); !os.IsNotExist(err) {
		t.Error("a document was written for the unresolvable split")
	}

	// No resolvable splits at all is fatal.
	if err := WriteCOCOSplits(root, outDir, "grapes", []string{"nope"}, labels); err == nil {
		t.Error("WriteCOCOSplits with no resolvable splits did not fail")
	}
}

func TestWriteCOCOSplitsMissingRoot(t *testing.T) {
	dir := t.TempDir()
	err := WriteCOCOSplits(filepath.Join(dir, "absent"), filepath.Join(dir, "out"), "grapes",
		[]string{"train"}, SingleClassLabelMap("grape"))
	if err == nil {
		t.Error("WriteCOCOSplits with a missing root did not fail")
	}
}

func TestReadSplitList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.txt")
	writeTestFile(t, path, "CDY_0001\n\n  \nCFR_0002\nCDY_0001\nSYH_0003\n")

	stems, err := readSplitList(path)
	if err != nil {
		t.Fatalf("readSplitList failed: %v", err)
	}

	want := []string{"CDY_0001", "CFR_0002", "SYH_0003"}
	if len(stems) != len(want) {
		t.Fatalf("got %v, want %v", stems, want)
	}
	for i := range want {
		if stems[i] != want[i] {
			t.Errorf("stem %d = %q, want %q", i, stems[i], want[i])
		}
	}
}

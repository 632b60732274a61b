package grapeconv

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestParseYOLOAnnotation(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    YOLOAnnotation
		wantErr bool
	}{
		{
			name: "valid line",
			line: "0 0.5 0.5 0.2 0.1",
			want: YOLOAnnotation{ClassID: 0, CenterX: 0.5, CenterY: 0.5, Width: 0.2, Height: 0.1},
		},
		{
			name: "extra whitespace",
			line: "  1  0.25   0.75 0.5 0.5 ",
			want: YOLOAnnotation{ClassID: 1, CenterX: 0.25, CenterY: 0.75, Width: 0.5, Height: 0.5},
		},
		{
			name:    "four fields",
			line:    "0 0.5 0.5 0.2",
			wantErr: true,
		},
		{
			name:    "six fields",
			line:    "0 0.5 0.5 0.2 0.1 0.9",
			wantErr: true,
		},
		{
			name:    "non-numeric coordinate",
			line:    "0 0.5 abc 0.2 0.1",
			wantErr: true,
		},
		{
			name:    "fraction above one",
			line:    "0 1.5 0.5 0.2 0.1",
			wantErr: true,
		},
		{
			name:    "negative fraction",
			line:    "0 0.5 -0.1 0.2 0.1",
			wantErr: true,
		},
		{
			name:    "negative class",
			line:    "-1 0.5 0.5 0.2 0.1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseYOLOAnnotation(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseYOLOAnnotation(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseYOLOAnnotation(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestToAbsolute(t *testing.T) {
	a := YOLOAnnotation{ClassID: 0, CenterX: 0.5, CenterY: 0.5, Width: 0.2, Height: 0.1}
	got := a.toAbsolute(1000, 1000, "grape")

	want := [4]float64{400, 450, 600, 550}
	for i := range want {
		if math.Abs(got.Coords[i]-want[i]) > 1e-9 {
			t.Fatalf("toAbsolute coords = %v, want %v", got.Coords, want)
		}
	}
	if got.Label != "grape" {
		t.Errorf("toAbsolute label = %q, want %q", got.Label, "grape")
	}
}

func TestFromYOLORoundTripToCSV(t *testing.T) {
	dir := t.TempDir()
	labelDir := filepath.Join(dir, "labels")
	imageDir := filepath.Join(dir, "images")

	writeTestFile(t, filepath.Join(labelDir, "CDY_0001.txt"), "0 0.5 0.5 0.2 0.1\n")
	writeTestPNG(t, filepath.Join(imageDir, "CDY_0001.png"), 1000, 1000)

	data, err := FromYOLO(labelDir, imageDir, SingleClassLabelMap("grape"), ClampToBounds)
	if err != nil {
		t.Fatalf("FromYOLO failed: %v", err)
	}
	if len(data) != 1 {
		t.Fatalf("FromYOLO returned %d files, want 1", len(data))
	}
	if data[0].Width != 1000 || data[0].Height != 1000 {
		t.Fatalf("image dimensions = %dx%d, want 1000x1000", data[0].Width, data[0].Height)
	}

	csvData := ToCSV(data, SingleClassLabelMap("grape"))
	if len(csvData) != 1 || len(csvData[0].Annotations) != 1 {
		t.Fatalf("ToCSV returned unexpected shape: %+v", csvData)
	}

	got := csvData[0].Annotations[0]
	want := CSVAnnotation{Item: 1, X: 400, Y: 450, Width: 200, Height: 100, Label: 1}
	if got != want {
		t.Errorf("converted box = %+v, want %+v", got, want)
	}
}

func TestFromYOLOBoundsPreservation(t *testing.T) {
	dir := t.TempDir()
	labelDir := filepath.Join(dir, "labels")
	imageDir := filepath.Join(dir, "images")

	// Boxes at the image edges and one exceeding the bounds through its width.
	writeTestFile(t, filepath.Join(labelDir, "img.txt"),
		"0 0.5 0.5 1.0 1.0\n"+
				"0 0.01 0.01 0.1 0.1\n"+
				"0 0.99 0.99 0.1 0.1\n"+
				"0 0.5 0.5 0.333 0.667\n")
	writeTestPNG(t, filepath.Join(imageDir, "img.png"), 640, 480)

	data, err := FromYOLO(labelDir, imageDir, SingleClassLabelMap("grape"), ClampToBounds)
	if err != nil {
		t.Fatalf("FromYOLO failed: %v", err)
	}

	csvData := ToCSV(data, SingleClassLabelMap("grape"))
	for _, f := range csvData {
		for _, a := range f.Annotations {
			if a.X < 0 || a.Y < 0 {
				t.Errorf("box %+v has a negative origin", a)
			}
			if a.X+a.Width > 640 || a.Y+a.Height > 480 {
				t.Errorf("box %+v exceeds the 640x480 image bounds", a)
			}
		}
	}
}

func TestFromYOLOMalformedLineSkipped(t *testing.T) {
	dir := t.TempDir()
	labelDir := filepath.Join(dir, "labels")
	imageDir := filepath.Join(dir, "images")

	// The second line has four fields and must be skipped without affecting the others.
	writeTestFile(t, filepath.Join(labelDir, "img.txt"),
		"0 0.5 0.5 0.2 0.1\n"+
				"0 0.5 0.5 0.2\n"+
				"0 0.25 0.25 0.1 0.1\n")
	writeTestPNG(t, filepath.Join(imageDir, "img.png"), 100, 100)

	data, err := FromYOLO(labelDir, imageDir, SingleClassLabelMap("grape"), ClampToBounds)
	if err != nil {
		t.Fatalf("FromYOLO failed: %v", err)
	}
	if len(data) != 1 {
		t.Fatalf("FromYOLO returned %d files, want 1", len(data))
	}
	if len(data[0].Annotations) != 2 {
		t.Errorf("got %d annotations, want 2 (malformed line skipped)", len(data[0].Annotations))
	}
}

func TestFromYOLOMissingImageExcludesFile(t *testing.T) {
	dir := t.TempDir()
	labelDir := filepath.Join(dir, "labels")
	imageDir := filepath.Join(dir, "images")

	writeTestFile(t, filepath.Join(labelDir, "present.txt"), "0 0.5 0.5 0.2 0.1\n")
	writeTestFile(t, filepath.Join(labelDir, "orphan.txt"), "0 0.5 0.5 0.2 0.1\n")
	writeTestPNG(t, filepath.Join(imageDir, "present.png"), 100, 100)

	data, err := FromYOLO(labelDir, imageDir, SingleClassLabelMap("grape"), ClampToBounds)
	if err != nil {
		t.Fatalf("FromYOLO failed: %v", err)
	}
	if len(data) != 1 {
		t.Fatalf("FromYOLO returned %d files, want 1", len(data))
	}
	if filepath.Base(data[0].FilePath) != "present.png" {
		t.Errorf("kept file = %q, want present.png", data[0].FilePath)
	}
}

func TestFromYOLOMissingLabelDirIsFatal(t *testing.T) {
	dir := t.TempDir()
	imageDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		t.Fatal(err)
	}

	_, err := FromYOLO(filepath.Join(dir, "no-such-dir"), imageDir,
		SingleClassLabelMap("grape"), ClampToBounds)
	if err == nil {
		t.Error("FromYOLO with a missing label directory did not fail")
	}
}

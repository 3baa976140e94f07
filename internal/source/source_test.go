package source_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/austarch/austarch-db/internal/source"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestDir_List(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"b_radiocarbon.csv":  "SITE,LAB_CODE\n",
		"a_luminescence.TSV": "SITE\tLAB_CODE\n",
		"readme.txt":         "ignored",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.csv"), 0o755); err != nil {
		t.Fatal(err)
	}

	lister, err := source.Open(context.Background(), dir, source.S3Config{})
	if err != nil {
		t.Fatal(err)
	}
	inputs, err := lister.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 2 || inputs[0].Name != "a_luminescence.TSV" || inputs[1].Name != "b_radiocarbon.csv" {
		t.Fatalf("unexpected inputs %+v", inputs)
	}

	rc, err := inputs[1].Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "SITE,LAB_CODE\n" {
		t.Errorf("unexpected body %q", b)
	}
}

func TestOpen_MissingDir(t *testing.T) {
	if _, err := source.Open(context.Background(), filepath.Join(t.TempDir(), "nope"), source.S3Config{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in             string
		bucket, prefix string
		wantErr        bool
	}{
		{"s3://data/austarch", "data", "austarch/", false},
		{"s3://data/austarch/", "data", "austarch/", false},
		{"s3://data", "data", "", false},
		{"s3://", "", "", true},
		{"s3:///prefix", "", "", true},
	}
	for _, tt := range tests {
		b, p, err := source.ParseS3URL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseS3URL(%q) error = %v", tt.in, err)
			continue
		}
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3URL(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestFileClassification(t *testing.T) {
	if !source.IsReferenceFile("AustArch_Citations.csv") || !source.IsReferenceFile("references.tsv") {
		t.Error("expected citation/reference files to be recognised")
	}
	if source.IsReferenceFile("austarch_dates.csv") {
		t.Error("data file classified as reference")
	}
	if source.IsDataFile("notes.xlsx") {
		t.Error("xlsx is not a data file")
	}
}

type fakeS3 struct {
	objects map[string]string
	pages   [][]string
	calls   int
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := f.pages[f.calls]
	f.calls++
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(f.calls < len(f.pages))}
	for _, k := range page {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if f.calls < len(f.pages) {
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.objects[aws.ToString(in.Key)]))}, nil
}

func TestS3_ListPaginatesAndFilters(t *testing.T) {
	fake := &fakeS3{
		objects: map[string]string{"austarch/dates.csv": "SITE,LAB_CODE\nLake Mungo,ANU-1\n"},
		pages: [][]string{
			{"austarch/dates.csv", "austarch/readme.md"},
			{"austarch/archive/old.csv", "austarch/lum.tsv"},
		},
	}
	s := source.NewS3WithClient(fake, "bucket", "austarch/")

	inputs, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 list calls, got %d", fake.calls)
	}
	if len(inputs) != 2 || inputs[0].Name != "dates.csv" || inputs[1].Name != "lum.tsv" {
		t.Fatalf("unexpected inputs %+v", inputs)
	}
	if inputs[0].Location != "s3://bucket/austarch/dates.csv" {
		t.Errorf("location = %s", inputs[0].Location)
	}

	rc, err := inputs[0].Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if !strings.Contains(string(b), "Lake Mungo") {
		t.Errorf("unexpected body %q", b)
	}
}

// Package source lists the input files of an ingestion run, from a local
// directory or an S3 prefix.
package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Input is one data file.
type Input struct {
	// Name is the file's base name.
	Name string
	// Location is the full path or s3:// URL.
	Location string

	open func(ctx context.Context) (io.ReadCloser, error)
}

func NewInput(name, location string, open func(ctx context.Context) (io.ReadCloser, error)) Input {
	return Input{Name: name, Location: location, open: open}
}

func (i Input) Open(ctx context.Context) (io.ReadCloser, error) {
	if i.open == nil {
		return nil, fmt.Errorf("input %s cannot be opened", i.Location)
	}
	return i.open(ctx)
}

// Lister enumerates data files, sorted by name.
type Lister interface {
	List(ctx context.Context) ([]Input, error)
	Location() string
}

// IsDataFile reports whether name has a .csv or .tsv extension.
func IsDataFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".tsv":
		return true
	}
	return false
}

// IsReferenceFile reports whether name is a citation or reference list
// shipped next to the data files. Those carry no ages.
func IsReferenceFile(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "citation") || strings.Contains(n, "reference")
}

// Open returns a Lister for location: "s3://bucket/prefix" or a directory.
func Open(ctx context.Context, location string, cfg S3Config) (Lister, error) {
	if strings.HasPrefix(location, "s3://") {
		bucket, prefix, err := ParseS3URL(location)
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, cfg, bucket, prefix)
	}
	return NewDir(location)
}

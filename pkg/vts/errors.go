package vts

import "errors"

var (
	// ErrMalformedFilename is returned when no step number can be
	// extracted from a snapshot filename.
	ErrMalformedFilename = errors.New("vts: no step number in filename")

	// ErrUnsupportedGridType is returned for non-rectilinear or
	// multi-block grid content.
	ErrUnsupportedGridType = errors.New("vts: unsupported grid type")

	// ErrNonUniformSpacing is returned when explicit coordinates are not
	// uniformly spaced per axis.
	ErrNonUniformSpacing = errors.New("vts: non-uniform coordinate spacing")

	// ErrMalformedFile is returned when a file is not well-formed VTK XML.
	ErrMalformedFile = errors.New("vts: malformed file")
)

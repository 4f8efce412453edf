package util

import "errors"

var (
	ErrNoInputFiles = errors.New("no input files found")
	ErrNoArtifacts  = errors.New("no artifacts found")
)

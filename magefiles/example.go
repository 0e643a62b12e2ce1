//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// exampleManifest is the small cereal-style problem used by the dataset tests.
var exampleManifest = filepath.Join("internal", "dataset", "testdata", "problem.yaml")

// Example estimates the bundled test problem at its manifest sigma and
// lists the stored runs.
func Example() error {
	mg.Deps(Build)
	bin := filepath.Join(binDir, binName)
	if err := sh.RunV(bin, "estimate", "--problem", exampleManifest); err != nil {
		return err
	}
	return sh.RunV(bin, "runs", "list", "--limit", "5")
}

//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed for a few hundred frames on the null backend.
func (Run) Demo() error {
	mg.Deps(Build.Engine)
	fmt.Println("Run testbed...")
	if _, err := executeCmd("bin/testbed", withArgs("-frames", "600"), withStream()); err != nil {
		return err
	}
	return nil
}

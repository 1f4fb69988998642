// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

var Default = Build

var cmds = []string{
	"calo-dump",
	"calo-inspect",
	"calo-tdaq",
	"calo2lcio",
}

// Build compiles all the commands under ./bin.
func Build() error {
	for _, name := range cmds {
		mg.Deps(mg.F(buildCmd, name))
	}
	fmt.Println("Compilation finished")
	return nil
}

// Install installs all the commands under $GOBIN.
func Install() error {
	mg.Deps(Vet)
	args := []string{"install"}
	for _, name := range cmds {
		args = append(args, "./cmd/"+name)
	}
	return gocmd(nil, args...)
}

// Test runs the tests of all packages.
func Test() error {
	mg.Deps(Vet)
	return gocmd(nil, "test", "./...")
}

// Race runs the tests of all packages with the race detector.
func Race() error {
	return gocmd([]string{"CGO_ENABLED=1"}, "test", "-race", "./...")
}

func Vet() error {
	return gocmd(nil, "vet", "./...")
}

// Clean removes the compiled commands.
func Clean() error {
	return os.RemoveAll("./bin")
}

func buildCmd(name string) error {
	fmt.Printf("Building %s executable...\n", name)
	return gocmd([]string{"CGO_ENABLED=0"}, "build", "-o", "./bin/"+name, "./cmd/"+name)
}

func gocmd(env []string, args ...string) error {
	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

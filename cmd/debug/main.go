// Command debug loads an image and launches the interactive REPL debugger
// (spec.md §6 "debug IMAGE").
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"stackvm/debugger"
	"stackvm/image"
	"stackvm/vm"
)

func main() {
	flag.Parse()
	log := logrus.New()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: debug IMAGE")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.WithError(err).Error("cannot open image")
		os.Exit(1)
	}
	img, err := image.Decode(f)
	f.Close()
	if err != nil {
		log.WithError(err).Error("cannot decode image")
		os.Exit(1)
	}

	v := vm.New(img)
	dbg := debugger.New(v, img, os.Stdout, log)
	if err := dbg.Run(os.Stdin); err != nil {
		log.WithError(err).Error("debugger session ended with an error")
		os.Exit(1)
	}
}

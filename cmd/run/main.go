// Command run loads and executes an image, surfacing the program's exit
// value as the process exit code, clamped to 0..255 (spec.md §6 "run
// IMAGE").
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"stackvm/image"
	"stackvm/vm"
)

func main() {
	flag.Parse()
	log := logrus.New()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: run IMAGE")
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
	if err := v.Run(); err != nil {
		log.WithError(err).Error("trap")
		os.Exit(1)
	}

	code := int32(v.ExitCode)
	switch {
	case code < 0:
		code = 0
	case code > 255:
		code = 255
	}
	os.Exit(int(code))
}

// Command assemble lowers an assembly source file to an image (spec.md §6
// "assemble SRC [-o OUT]").
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"stackvm/asm"
	"stackvm/disasm"
	"stackvm/image"
	"stackvm/preprocess"
)

func main() {
	out := flag.String("o", "a.out", "output image path")
	showDis := flag.Bool("dis", false, "print a disassembly listing instead of writing an image")
	flag.Parse()

	log := logrus.New()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: assemble SRC [-o OUT] [-dis]")
		os.Exit(2)
	}
	src := flag.Arg(0)

	tokens, err := preprocess.Process(src, preprocess.OSResolver{})
	if err != nil {
		log.WithError(err).Error("preprocessing failed")
		os.Exit(1)
	}

	img, err := asm.Assemble(tokens)
	if err != nil {
		log.WithError(err).Error("assembly failed")
		os.Exit(1)
	}

	if *showDis {
		fmt.Print(disasm.Format(disasm.Listing(img, 0, 0)))
		return
	}

	f, err := os.Create(*out)
	if err != nil {
		log.WithError(err).WithField("path", *out).Error("cannot create output image")
		os.Exit(1)
	}
	defer f.Close()

	if err := image.Encode(f, img); err != nil {
		log.WithError(err).Error("image encoding failed")
		os.Exit(1)
	}

	log.WithFields(logrus.Fields{
		"output":  *out,
		"symbols": len(img.Symbols),
		"code":    len(img.Code),
		"data":    len(img.Data),
	}).Info("assembled")
}

package main

import (
	"flag"
	"log"
	"os"

	extr "github.com/nci/cubeserver/crawl/extractor"
)

var (
	conc    = flag.Int("conc", 16, "Concurrency of the crawler.")
	pattern = flag.String("pattern", `type == 'd' || path =~ '\\.odc-metadata\\.yaml$'`, "File matching pattern expression.")
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Please provide a path to the archive root directory")
	}

	err := extr.ExtractScenes(flag.Arg(0), *conc, *pattern, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
}

// Package main provides a command-line utility to list HDF5 file
// contents: the object tree with shapes and datatypes, and optionally
// the chunk map of every chunked dataset.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/scigolib/h5r"
)

func main() {
	chunks := flag.Bool("chunks", false, "Dump the chunk map of chunked datasets")
	paged := flag.Bool("paged", false, "Enable the metadata page cache")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Println("Usage: h5ls [flags] <file.h5 | url>")
		flag.PrintDefaults()
		return
	}

	open := h5r.Open
	if *paged {
		open = h5r.OpenPaged
	}
	f, err := open(args[0])
	if err != nil {
		log.Fatalf("Failed to open %s: %v", args[0], err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close file: %v", err)
		}
	}()

	err = f.Walk(func(path string, obj h5r.Object) {
		ds, ok := obj.(*h5r.Dataset)
		if !ok {
			fmt.Printf("%-40s group\n", path)
			return
		}

		fmt.Printf("%-40s dataset shape=%v dtype=%s", path, ds.Shape(), ds.Dtype())
		if cs := ds.ChunkShape(); cs != nil {
			fmt.Printf(" chunks=%v", cs)
		}
		for _, fl := range ds.FilterPipeline() {
			fmt.Printf(" filter=%d", fl.ID)
		}
		fmt.Println()

		if *chunks && ds.ChunkShape() != nil {
			records, err := ds.InspectChunks()
			if err != nil {
				log.Printf("chunk scan of %s failed: %v", path, err)
				return
			}
			for _, rec := range records {
				fmt.Printf("    chunk %v at %d (%d bytes, mask %#x)\n",
					rec.Offset, rec.Address, rec.Length, rec.FilterMask)
			}
		}
	})
	if err != nil {
		log.Fatalf("Walk failed: %v", err)
	}

	if *paged {
		fmt.Printf("page cache: %d hits, %d misses\n", f.CacheHits(), f.CacheMisses())
	}
}

package main

import "github.com/gaplessdata/block-ingestor/cmd"

func main() {
	cmd.Execute()
}

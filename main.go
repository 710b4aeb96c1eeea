package main

import (
	"github.com/sackio/unibrowse-sub002/cmd"
)

func main() {
	cmd.Execute()
}

package main

import "github.com/garrettjstevens/jbrowse-utils/cmd/jbrowse-utils/cmd"

func main() {
	cmd.Run()
}

package main

import "github.com/revradar/retrieval-engine/cmd"

func main() {
	cmd.Execute()
}

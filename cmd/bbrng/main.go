package main

import "github.com/Thiagojm/bbrng/cmd/bbrng/cmd"

func main() {
	cmd.Execute()
}

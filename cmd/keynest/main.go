package main

import "github.com/keynest/keynest/cmd/keynest/cmd"

func main() {
	cmd.Execute()
}

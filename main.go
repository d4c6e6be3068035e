package main

import "github.com/tanq16/flux/cmd"

func main() {
	cmd.Execute()
}

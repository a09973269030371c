package main

import "github.com/aweris/chonky/cmd/chonky/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/cbnsndwch/struktura/cmd"

func main() {
	cmd.Execute()
}

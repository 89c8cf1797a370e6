package main

import "github.com/PublicisSapient/knowhow-processors-sub002/cmd"

func main() {
	cmd.Execute()
}

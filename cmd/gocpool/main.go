package main

import "github.com/daimatz/gocpool/cmd/gocpool/cmd"

func main() {
	cmd.Execute()
}

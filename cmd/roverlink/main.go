package main

import "github.com/roverlink/roverlink/cmd/roverlink/cmd"

func main() {
	cmd.Execute()
}

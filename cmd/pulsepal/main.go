package main

import "github.com/pulsepal/pulsepal/cmd/pulsepal/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/tabloom/tabloom-cli/cmd"

func main() {
	cmd.Execute()
}

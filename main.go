package main

import "github.com/Tiliavir/duty-time-tracker/cmd"

func main() {
	cmd.Execute()
}

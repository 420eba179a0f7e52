package main

import "github.com/dayuer/pacebot/cmd"

func main() {
	cmd.Execute()
}

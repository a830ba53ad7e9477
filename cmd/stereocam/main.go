package main

import "github.com/bryanchriswhite/stereocam/cmd/stereocam/commands"

func main() {
	commands.Execute()
}

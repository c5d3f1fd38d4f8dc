package main

import "github.com/bryanchriswhite/wincat/cmd/wincat/commands"

func main() {
	commands.Execute()
}

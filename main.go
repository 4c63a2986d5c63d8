package main

import "github.com/nextlevelbuilder/querydesk/cmd"

func main() {
	cmd.Execute()
}

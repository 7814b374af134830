package main

import "github.com/studiodesk/notifier/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/forkful/liveclass/cmd/classctl/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/maxvaer/lbscan/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/sellergrid/stealthfetch/cmd"

func main() {
	cmd.Execute()
}

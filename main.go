package main

import "SpoofDetServer/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/kozaktomas/face-auth/cmd"

func main() {
	cmd.Execute()
}

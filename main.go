package main

import "github.com/youlab/tutord/cmd"

func main() {
	cmd.Execute()
}

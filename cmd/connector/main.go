package main

import "github.com/chiquitav2/erebrus-connector/cmd/connector/cmd"

func main() {
	cmd.Execute()
}

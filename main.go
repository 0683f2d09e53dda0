package main

import "github.com/sambena/edgegate/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/danielsimonjr/ironclaw/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/MeKo-Tech/aeromosaic/internal/cmd"

func main() {
	cmd.Execute()
}

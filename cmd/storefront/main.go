package main

import "github.com/ivanstrassberg/storefront/internal/cmd"

func main() {
	cmd.Execute()
}

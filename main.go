package main

import "github.com/jmehdipour/payment-service/cmd"

func main() {
	cmd.Execute()
}

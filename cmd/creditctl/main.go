package main

import "github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/cli"

func main() {
	cli.Execute()
}
